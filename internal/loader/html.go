package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const htmlBlocks = "h1,h2,h3,h4,h5,h6,p,li,pre,blockquote,td,th,dt,dd"

// loadHTML extracts the title and the text of block-level elements. Pages
// with no recognised blocks fall back to the full body text.
func loadHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script,style,noscript,template").Remove()

	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}
	doc.Find(htmlBlocks).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) <= 1 {
		if body := strings.TrimSpace(doc.Find("body").Text()); body != "" {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n"), nil
}
