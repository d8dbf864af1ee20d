package generator

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
)

var staticPage = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}}</title>
  <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="min-h-screen bg-gray-50 text-gray-900">
  <main class="max-w-3xl mx-auto py-24 px-6">
    <h1 class="text-4xl font-bold mb-6">{{.Title}}</h1>
    {{range .Notes}}<p class="mb-4 text-lg">{{.}}</p>
    {{end}}
  </main>
</body>
</html>
`))

// Static renders a placeholder page from the prompt without calling a model.
// It keeps the product usable in development and tests.
type Static struct{}

// NewStatic returns the offline generator.
func NewStatic() *Static { return &Static{} }

// Generate renders the prompt into a page. Revisions replace the page.
func (Static) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	title := prompt
	if i := strings.IndexAny(title, ".\n"); i > 0 {
		title = title[:i]
	}
	title = truncate(title, 60, "")

	var buf bytes.Buffer
	if err := staticPage.Execute(&buf, map[string]any{"Title": title, "Notes": []string{prompt}}); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return &Result{Code: buf.String(), Description: describe(req)}, nil
}
