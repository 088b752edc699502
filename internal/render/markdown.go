// ABOUTME: Markdown to terminal renderer built on the goldmark parser
// ABOUTME: Walks the AST and applies fatih/color styles to headings, emphasis, and code

package render

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	headingStyle = color.New(color.Bold, color.Underline)
	strongStyle  = color.New(color.Bold)
	emStyle      = color.New(color.Italic)
	codeStyle    = color.New(color.FgCyan)
	quoteStyle   = color.New(color.FgHiBlack)
	linkStyle    = color.New(color.FgBlue, color.Underline)
)

var parser = goldmark.New().Parser()

// Markdown renders src for a terminal. Block elements are separated by a
// blank line and lists keep their markers.
func Markdown(src string) string {
	source := []byte(src)
	doc := parser.Parse(text.NewReader(source))
	r := &renderer{src: source}
	return strings.TrimRight(r.blocks(doc), "\n")
}

type renderer struct {
	src []byte
}

// blocks renders the block children of n.
func (r *renderer) blocks(n ast.Node) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if out := r.block(c); out != "" {
			parts = append(parts, out)
		}
	}
	sep := "\n\n"
	if l, ok := n.(*ast.ListItem); ok && isTight(l) {
		sep = "\n"
	}
	return strings.Join(parts, sep)
}

func isTight(item *ast.ListItem) bool {
	list, ok := item.Parent().(*ast.List)
	return ok && list.IsTight
}

func (r *renderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Heading:
		return headingStyle.Sprint(r.inline(n))
	case *ast.Paragraph, *ast.TextBlock:
		return r.inline(n)
	case *ast.List:
		return r.list(n)
	case *ast.Blockquote:
		return prefixLines(r.blocks(n), quoteStyle.Sprint("│ "), quoteStyle.Sprint("│ "))
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return prefixLines(codeStyle.Sprint(strings.TrimRight(r.lines(n), "\n")), "    ", "    ")
	case *ast.HTMLBlock:
		return strings.TrimRight(r.lines(n), "\n")
	case *ast.ThematicBreak:
		return quoteStyle.Sprint(strings.Repeat("─", 20))
	default:
		if n.Type() == ast.TypeBlock {
			return r.blocks(n)
		}
		return r.inline(n)
	}
}

func (r *renderer) list(l *ast.List) string {
	var items []string
	i := 0
	for c := l.FirstChild(); c != nil; c = c.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", l.Start+i)
		}
		body := r.blocks(c)
		items = append(items, prefixLines(body, marker, strings.Repeat(" ", len(marker))))
		i++
	}
	if l.IsTight {
		return strings.Join(items, "\n")
	}
	return strings.Join(items, "\n\n")
}

// lines returns the raw source lines of a block node.
func (r *renderer) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(r.src))
	}
	return b.String()
}

// inline renders the inline children of n.
func (r *renderer) inline(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(r.src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.Emphasis:
			if c.Level >= 2 {
				b.WriteString(strongStyle.Sprint(r.inline(c)))
			} else {
				b.WriteString(emStyle.Sprint(r.inline(c)))
			}
		case *ast.CodeSpan:
			b.WriteString(codeStyle.Sprint(r.inline(c)))
		case *ast.Link:
			label := r.inline(c)
			dest := string(c.Destination)
			b.WriteString(linkStyle.Sprint(label))
			if dest != "" && dest != label {
				b.WriteString(" (" + dest + ")")
			}
		case *ast.AutoLink:
			b.WriteString(linkStyle.Sprint(string(c.URL(r.src))))
		case *ast.RawHTML:
			for i := 0; i < c.Segments.Len(); i++ {
				seg := c.Segments.At(i)
				b.Write(seg.Value(r.src))
			}
		default:
			b.WriteString(r.inline(c))
		}
	}
	return b.String()
}

// prefixLines puts first before the first line and rest before every other line.
func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		p := rest
		if i == 0 {
			p = first
		}
		if line == "" && i > 0 {
			lines[i] = strings.TrimRight(p, " ")
			continue
		}
		lines[i] = p + line
	}
	return strings.Join(lines, "\n")
}
