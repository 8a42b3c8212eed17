package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	htmlstd "html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = buildPageSanitizer()
)

// buildPageSanitizer extends the UGC policy with the structural wrappers
// the block renderer emits; everything inside them stays UGC-restricted.
func buildPageSanitizer() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("section", "figure", "figcaption")
	policy.AllowAttrs("class", "data-background").OnElements("div", "section", "figure", "p")
	policy.AllowAttrs("rel").OnElements("a")
	return policy
}

// blockDocument mirrors just enough of the editor's JSON for rendering.
// Unknown block types and extra fields pass through untouched elsewhere;
// the renderer simply skips what it does not recognize.
type blockDocument struct {
	Background string `json:"background"`
	Blocks     []struct {
		Type     string `json:"type"`
		Markdown string `json:"markdown"`
		URL      string `json:"url"`
		Alt      string `json:"alt"`
		Label    string `json:"label"`
	} `json:"blocks"`
}

// RenderDocument turns a published block document into sanitized HTML
// suitable for serving at the public slug.
func RenderDocument(content string) (template.HTML, error) {
	var doc blockDocument
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return "", err
	}

	var out strings.Builder
	if bg := strings.TrimSpace(doc.Background); bg != "" {
		fmt.Fprintf(&out, `<div class="page" data-background=%q>`, bg)
	} else {
		out.WriteString(`<div class="page">`)
	}

	for _, block := range doc.Blocks {
		switch block.Type {
		case "text":
			rendered, err := renderMarkdown(block.Markdown)
			if err != nil {
				return "", err
			}
			out.WriteString(`<section class="block block-text">`)
			out.WriteString(rendered)
			out.WriteString(`</section>`)
		case "image":
			if strings.TrimSpace(block.URL) == "" {
				continue
			}
			fmt.Fprintf(&out, `<figure class="block block-image"><img src=%q alt=%q/></figure>`,
				block.URL, block.Alt)
		case "link":
			if strings.TrimSpace(block.URL) == "" {
				continue
			}
			label := strings.TrimSpace(block.Label)
			if label == "" {
				label = block.URL
			}
			fmt.Fprintf(&out, `<p class="block block-link"><a href=%q rel="noopener">%s</a></p>`,
				block.URL, htmlstd.EscapeString(label))
		}
	}

	out.WriteString(`</div>`)

	return template.HTML(sanitizer.Sanitize(out.String())), nil
}

func renderMarkdown(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
