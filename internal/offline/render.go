// Package offline renders the markdown source of the offline fallback
// document into the standalone HTML page served at offline_url.
package offline

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Options controls the page chrome around the rendered markdown.
type Options struct {
	SiteName string
	// Stylesheet is an optional href. It should name a precached asset,
	// otherwise the page renders unstyled while offline.
	Stylesheet string
	// Source is used for the fallback title when the markdown has no heading.
	Source string
}

type pageData struct {
	Title      string
	SiteName   string
	Stylesheet string
	Content    template.HTML
}

// Renderer converts markdown to an offline page.
type Renderer struct {
	md   goldmark.Markdown
	tmpl *template.Template
}

// NewRenderer creates a Renderer with GFM and inline-styled code highlighting.
func NewRenderer() (*Renderer, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)

	tmpl, err := template.New("offline").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing page template: %w", err)
	}
	return &Renderer{md: md, tmpl: tmpl}, nil
}

// Render writes the HTML page for the markdown in src to w.
func (r *Renderer) Render(w io.Writer, src []byte, opts Options) error {
	var buf bytes.Buffer
	if err := r.md.Convert(src, &buf); err != nil {
		return fmt.Errorf("converting markdown: %w", err)
	}

	data := pageData{
		Title:      extractTitle(string(src), opts.Source),
		SiteName:   opts.SiteName,
		Stylesheet: opts.Stylesheet,
		Content:    template.HTML(buf.String()),
	}
	return r.tmpl.Execute(w, data)
}

// extractTitle pulls the first # heading from markdown content, or falls back to the filename.
func extractTitle(content, source string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimPrefix(line, "# ")
		}
	}
	if source == "" {
		return "Offline"
	}
	return strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}{{if .SiteName}} - {{.SiteName}}{{end}}</title>
{{if .Stylesheet}}<link rel="stylesheet" href="{{.Stylesheet}}">{{end}}
<style>
body { max-width: 42rem; margin: 4rem auto; padding: 0 1rem; font-family: system-ui, sans-serif; line-height: 1.6; color: #222; }
pre { padding: 1rem; overflow-x: auto; border-radius: 4px; }
.offline-retry { margin-top: 2rem; }
</style>
</head>
<body>
<main class="offline">
{{.Content}}
<p class="offline-retry"><a href="javascript:location.reload()">Try again</a></p>
</main>
</body>
</html>
`
