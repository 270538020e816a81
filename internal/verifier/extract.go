package verifier

import (
	"encoding/json"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Headings and paragraphs contribute to the text blob up to this count; beyond
// that it is unrelated page furniture.
const maxBlockTexts = 8

type page struct {
	Title string
	Text  string
}

// extractPage tokenizes the document and assembles a title and a text blob.
//
// Title priority: og:title, twitter:title, <title>, then a description meta as
// a last resort. The blob concatenates every description-like meta tag, any
// JSON-LD name/description, and the first few heading/paragraph texts.
func extractPage(r io.Reader) (page, error) {
	var (
		meta       = map[string]string{}
		docTitle   string
		blockTexts []string
		ldTexts    []string
	)

	z := html.NewTokenizer(r)
	var textTarget string // "title", "block" or "ldjson" while inside the element
	blockDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF || z.Err() == io.ErrUnexpectedEOF {
				return assemblePage(meta, docTitle, ldTexts, blockTexts), nil
			}
			// Tolerate malformed markup; keep whatever was extracted.
			return assemblePage(meta, docTitle, ldTexts, blockTexts), nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				key, content := metaAttrs(tok)
				if key != "" && content != "" {
					if _, seen := meta[key]; !seen {
						meta[key] = content
					}
				}
			case "title":
				if tt == html.StartTagToken {
					textTarget = "title"
				}
			case "script":
				if tt == html.StartTagToken && attrValue(tok, "type") == "application/ld+json" {
					textTarget = "ldjson"
				}
			case "h1", "h2", "h3", "p":
				if tt == html.StartTagToken && len(blockTexts) < maxBlockTexts {
					textTarget = "block"
					blockDepth++
				}
			}

		case html.TextToken:
			if textTarget == "" {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			switch textTarget {
			case "title":
				if docTitle == "" {
					docTitle = text
				}
			case "ldjson":
				ldTexts = append(ldTexts, parseJSONLD(text)...)
			case "block":
				blockTexts = append(blockTexts, text)
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title", "script":
				textTarget = ""
			case "h1", "h2", "h3", "p":
				if blockDepth > 0 {
					blockDepth--
				}
				if blockDepth == 0 {
					textTarget = ""
				}
			}
		}
	}
}

func assemblePage(meta map[string]string, docTitle string, ldTexts, blockTexts []string) page {
	title := firstNonEmpty(
		meta["og:title"],
		meta["twitter:title"],
		docTitle,
		meta["description"],
	)

	var parts []string
	for _, key := range []string{"description", "og:description", "twitter:description"} {
		if v := meta[key]; v != "" {
			parts = append(parts, v)
		}
	}
	parts = append(parts, ldTexts...)
	parts = append(parts, blockTexts...)

	return page{Title: title, Text: strings.Join(parts, " ")}
}

// parseJSONLD pulls name and description strings out of a JSON-LD block.
// Arrays of objects (video lists) are walked one level deep.
func parseJSONLD(raw string) []string {
	var out []string

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return ldStrings(obj)
	}

	var arr []map[string]any
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		for _, obj := range arr {
			out = append(out, ldStrings(obj)...)
		}
	}
	return out
}

func ldStrings(obj map[string]any) []string {
	var out []string
	for _, key := range []string{"name", "description"} {
		if s, ok := obj[key].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func metaAttrs(tok html.Token) (key, content string) {
	for _, a := range tok.Attr {
		switch a.Key {
		case "property", "name":
			if key == "" {
				key = a.Val
			}
		case "content":
			content = a.Val
		}
	}
	return key, content
}

func attrValue(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
