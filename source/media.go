package source

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/feedcast/source/internal/feed"
)

// HasMedia reports whether e carries an image or a video: a visual
// media:content, a thumbnail, an image/ or video/ enclosure, or an <img> or
// <video> tag in its markup.
func HasMedia(e *feed.Entry) bool {
	for _, m := range e.Media {
		if m.IsVisual() {
			return true
		}
	}
	if len(e.Thumbnails) > 0 {
		return true
	}
	for _, enc := range e.Enclosures {
		t := strings.ToLower(enc.Type)
		if strings.HasPrefix(t, "image/") || strings.HasPrefix(t, "video/") {
			return true
		}
	}
	for _, markup := range []string{e.Content, e.Description} {
		lower := strings.ToLower(markup)
		if strings.Contains(lower, "<img") || strings.Contains(lower, "<video") {
			return true
		}
	}
	return false
}

// ImageURL returns the first image reference of e, checked in order:
// media:content image, thumbnail, image/ enclosure, first <img src>.
func ImageURL(e *feed.Entry) string {
	for _, m := range e.Media {
		if m.IsImage() {
			return m.URL
		}
	}
	if len(e.Thumbnails) > 0 {
		return e.Thumbnails[0]
	}
	for _, enc := range e.Enclosures {
		if strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			return enc.URL
		}
	}
	for _, markup := range []string{e.Content, e.Description} {
		if src := firstImgSrc(markup); src != "" {
			return src
		}
	}
	return ""
}

func firstImgSrc(markup string) string {
	if !strings.Contains(strings.ToLower(markup), "<img") {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	return findImgSrc(doc)
}

func findImgSrc(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		for _, a := range n.Attr {
			if a.Key == "src" && strings.TrimSpace(a.Val) != "" {
				return strings.TrimSpace(a.Val)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if src := findImgSrc(c); src != "" {
			return src
		}
	}
	return ""
}
