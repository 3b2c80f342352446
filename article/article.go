// Package article reduces an article's body payload to plain-text blocks
// for the article overlay. Markdown and HTML bodies are parsed; anything
// else is treated as pre-split plain text.
package article

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/pressio/readerkit/manifest"
)

// BlockKind classifies one content block.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockListItem  BlockKind = "listItem"
)

// Block is one displayable unit of an article body.
type Block struct {
	Kind  BlockKind
	Level int // heading level, 0 otherwise
	Text  string
}

// Blocks converts an article's body per its declared format. An empty body
// yields no blocks and no error.
func Blocks(a manifest.Article) ([]Block, error) {
	body := strings.TrimSpace(a.Body)
	if body == "" {
		return nil, nil
	}
	switch strings.ToLower(a.Format) {
	case "markdown", "md":
		return fromMarkdown(body), nil
	case "html":
		return fromHTML(body)
	default:
		return fromPlain(body), nil
	}
}

func fromMarkdown(source string) []Block {
	md := goldmark.New()
	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	var out []Block
	walkMarkdown(doc, src, &out)
	return out
}

func walkMarkdown(node ast.Node, source []byte, out *[]Block) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			*out = append(*out, Block{
				Kind:  BlockHeading,
				Level: n.Level,
				Text:  strings.TrimSpace(string(n.Text(source))),
			})
		case *ast.Paragraph:
			if t := markdownParagraphText(n, source); t != "" {
				*out = append(*out, Block{Kind: BlockParagraph, Text: t})
			}
		case *ast.List:
			walkMarkdown(n, source, out)
		case *ast.ListItem:
			if t := markdownListItemText(n, source); t != "" {
				*out = append(*out, Block{Kind: BlockListItem, Text: t})
			}
		}
	}
}

// markdownParagraphText concatenates the paragraph's inline segments,
// folding soft line breaks into spaces.
func markdownParagraphText(n *ast.Paragraph, source []byte) string {
	var sb strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
			continue
		}
		sb.WriteString(string(child.Text(source)))
	}
	return strings.TrimSpace(sb.String())
}

func markdownListItemText(n *ast.ListItem, source []byte) string {
	child := n.FirstChild()
	if child == nil {
		return ""
	}
	if p, ok := child.(*ast.Paragraph); ok {
		return markdownParagraphText(p, source)
	}
	return strings.TrimSpace(string(child.Text(source)))
}

func fromHTML(source string) ([]Block, error) {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, err
	}
	var out []Block
	walkHTML(doc, &out)
	return out, nil
}

func walkHTML(n *html.Node, out *[]Block) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style:
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			if t := extractText(n); t != "" {
				*out = append(*out, Block{
					Kind:  BlockHeading,
					Level: headingLevel(n.DataAtom),
					Text:  t,
				})
			}
			return
		case atom.P:
			if t := extractText(n); t != "" {
				*out = append(*out, Block{Kind: BlockParagraph, Text: t})
			}
			return
		case atom.Li:
			if t := extractText(n); t != "" {
				*out = append(*out, Block{Kind: BlockListItem, Text: t})
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, out)
	}
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	}
	return 6
}

func extractText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func fromPlain(source string) []Block {
	var out []Block
	for _, para := range strings.Split(source, "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para != "" {
			out = append(out, Block{Kind: BlockParagraph, Text: para})
		}
	}
	return out
}
