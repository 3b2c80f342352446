package source

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

// AssetCache is a file-based cache for fetched page assets with a TTL, so
// reopening an edition does not re-download its tiles.
type AssetCache struct {
	dir string
	ttl time.Duration
}

// NewAssetCache creates the cache directory if needed.
func NewAssetCache(dir string, ttl time.Duration) (*AssetCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assetcache: create directory: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AssetCache{dir: dir, ttl: ttl}, nil
}

func (c *AssetCache) path(url string) string {
	sum := blake2b.Sum256([]byte(url))
	return filepath.Join(c.dir, fmt.Sprintf("%x", sum[:16]))
}

// Get returns the cached asset bytes if present and not expired.
func (c *AssetCache) Get(url string) ([]byte, bool) {
	p := c.path(url)
	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > c.ttl {
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores asset bytes under the URL's key.
func (c *AssetCache) Set(url string, data []byte) error {
	if err := os.WriteFile(c.path(url), data, 0o644); err != nil {
		return fmt.Errorf("assetcache: write: %w", err)
	}
	return nil
}

// Purge removes every expired entry and returns the number removed.
func (c *AssetCache) Purge() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("assetcache: read directory: %w", err)
	}
	removed := 0
	for _, ent := range entries {
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > c.ttl {
			if os.Remove(filepath.Join(c.dir, ent.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
