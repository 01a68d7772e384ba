package convert

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags force a line break when closed, so list items and paragraphs
// survive the flattening.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true, "section": true,
	"article": true, "header": true, "footer": true,
}

// htmlToText flattens an HTML fragment to readable plain text. Script and
// style subtrees are dropped, anchors keep their href as "text (url)", and
// block-level elements become line breaks. Parse errors fall back to the
// input unchanged; newsletters contain enough tag soup that a lossy render
// beats an empty one.
func htmlToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var sb strings.Builder
	walkHTML(doc, &sb)

	return collapseBlankLines(sb.String())
}

func walkHTML(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "head" {
			return
		}
		if n.Data == "a" {
			renderAnchor(n, sb)
			return
		}
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, sb)
	}

	if n.Type == html.ElementNode && blockTags[n.Data] {
		sb.WriteString("\n")
	}
}

func renderAnchor(n *html.Node, sb *strings.Builder) {
	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, &text)
	}
	label := strings.TrimSpace(text.String())

	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = attr.Val
			break
		}
	}

	switch {
	case label == "" && href == "":
	case href == "":
		sb.WriteString(label + " ")
	case label == "":
		sb.WriteString(href + " ")
	default:
		sb.WriteString(label + " (" + href + ") ")
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
