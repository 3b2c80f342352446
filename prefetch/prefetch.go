// Package prefetch warms the image cache ahead of navigation. Task priority
// falls off with distance from the current page, fetches run with bounded
// concurrency, and a navigation change aborts any in-flight fetch whose
// target page left the computed window.
package prefetch

import (
	"github.com/pressio/readerkit/manifest"
)

// Priority orders preload tasks. Higher values load first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// priorityFor maps distance from the current page onto a priority tier.
func priorityFor(distance int) Priority {
	switch {
	case distance <= 1:
		return PriorityHigh
	case distance == 2:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Task is one page to warm at one quality tier.
type Task struct {
	Page     int
	Quality  manifest.Quality
	Priority Priority
}

// ComputeTasks returns the preload window around current, ordered current
// first, then outward with the lower page of each distance pair before the
// higher. Pages outside [1, total] are dropped.
func ComputeTasks(current, total, distance int, q manifest.Quality) []Task {
	if total < 1 || distance < 0 {
		return nil
	}
	if current < 1 {
		current = 1
	}
	if current > total {
		current = total
	}
	if q == "" {
		q = manifest.QualityHigh
	}

	tasks := make([]Task, 0, 2*distance+1)
	add := func(page, dist int) {
		if page < 1 || page > total {
			return
		}
		tasks = append(tasks, Task{Page: page, Quality: q, Priority: priorityFor(dist)})
	}
	add(current, 0)
	for d := 1; d <= distance; d++ {
		add(current-d, d)
		add(current+d, d)
	}
	return tasks
}
