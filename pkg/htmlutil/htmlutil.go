package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// OwnText returns only the text nodes that are direct children of the node.
func OwnText(node *html.Node) string {
	if node == nil {
		return ""
	}
	var buffer bytes.Buffer
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			buffer.WriteString(child.Data)
		}
	}
	return buffer.String()
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText strips non-printable characters, trims the ends and collapses inner whitespace.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.TrimSpace(s)
	return innerWhitespace.ReplaceAllString(s, " ")
}

// ResolveURL resolves href against base, protocol-relative links (`//cdn/...`)
// take the scheme of base.
func ResolveURL(base *url.URL, href string) (*url.URL, error) {
	link, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	if base == nil {
		return link, nil
	}
	return base.ResolveReference(link), nil
}

type Anchor struct {
	Name string
	Url  *url.URL
}

// GetAnchors returns every anchor in the selection with its href resolved against base,
// anchors with an unparsable or missing href are skipped.
func GetAnchors(base *url.URL, sel *goquery.Selection) []Anchor {
	var anchors []Anchor
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				break
			}
		}
		if href == "" {
			continue
		}

		link, err := ResolveURL(base, href)
		if err != nil {
			continue
		}

		anchors = append(anchors, Anchor{
			Name: CleanText(GetText(n)),
			Url:  link,
		})
	}
	return anchors
}
