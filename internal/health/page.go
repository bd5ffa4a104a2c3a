// ABOUTME: Renders the landing page served at "/" from Markdown with goldmark
// ABOUTME: The built-in page is embedded; a file from config replaces it

package health

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed page.md
var defaultPage []byte

var pageShell = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 42rem; margin: 3rem auto; padding: 0 1rem; color: #222; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .3rem .6rem; text-align: left; }
code { background: #f3f3f3; padding: 0 .2rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// renderPage converts Markdown into a complete HTML document. An empty
// path renders the built-in page.
func renderPage(path string) ([]byte, error) {
	source := defaultPage
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading page: %w", err)
		}
		source = data
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var body bytes.Buffer
	if err := md.Convert(source, &body); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}

	var out bytes.Buffer
	err := pageShell.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: "coven-presence",
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering page shell: %w", err)
	}
	return out.Bytes(), nil
}
