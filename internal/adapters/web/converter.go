package web

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// noiseTags never carry article text.
var noiseTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"header": true, "footer": true, "aside": true, "form": true,
	"iframe": true, "svg": true, "button": true,
}

// noiseClasses mark navigation and advertising blocks on news sites.
var noiseClasses = []string{
	"nav", "navbar", "menu", "sidebar", "footer", "header", "ad",
	"advert", "advertisement", "social", "share", "related", "comments",
	"newsletter", "subscribe", "paywall", "cookie",
}

// Converted is the result of a conversion.
type Converted struct {
	Title    string
	Markdown string
}

// Converter turns article HTML into markdown.
type Converter struct {
	md *md.Converter
}

// NewConverter creates a converter with GitHub-flavored tables.
func NewConverter() *Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &Converter{md: c}
}

// Convert extracts the main article region and renders it as markdown.
func (c *Converter) Convert(content []byte) (Converted, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return Converted{}, err
	}
	title := pageTitle(doc)

	root := mainRegion(doc)
	prune(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return Converted{}, err
	}
	out, err := c.md.ConvertString(buf.String())
	if err != nil {
		return Converted{}, err
	}
	out = tidy(out)

	if title == "" {
		title = firstHeading(out)
	}
	return Converted{Title: title, Markdown: out}, nil
}

func pageTitle(doc *html.Node) string {
	if n := find(doc, func(n *html.Node) bool { return n.Data == "title" }); n != nil && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	return ""
}

// mainRegion prefers <article>, then <main>, then role=main, then <body>.
func mainRegion(doc *html.Node) *html.Node {
	candidates := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.Data == "article" },
		func(n *html.Node) bool { return n.Data == "main" },
		func(n *html.Node) bool { return attr(n, "role") == "main" },
		func(n *html.Node) bool { return n.Data == "body" },
	}
	for _, match := range candidates {
		if n := find(doc, match); n != nil {
			return n
		}
	}
	return doc
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// prune detaches noise elements below root.
func prune(root *html.Node) {
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n != root && n.Type == html.ElementNode && isNoise(n) {
			doomed = append(doomed, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	for _, n := range doomed {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func isNoise(n *html.Node) bool {
	if noiseTags[n.Data] {
		return true
	}
	classes := strings.Fields(strings.ToLower(attr(n, "class")))
	for _, cls := range classes {
		for _, noisy := range noiseClasses {
			if cls == noisy {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRunRe.ReplaceAllString(s, "\n\n"))
}

func firstHeading(markdown string) string {
	for _, l := range strings.Split(markdown, "\n") {
		if t := strings.TrimSpace(l); strings.HasPrefix(t, "# ") {
			return strings.TrimSpace(t[2:])
		}
	}
	return ""
}
