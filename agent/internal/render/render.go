package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/liveviz/liveviz/pkg/types"
)

// Style is the chroma style used for highlighted payloads.
const Style = "github"

// State is the mirrored content of one channel.
type State struct {
	VizID  string
	Info   types.Value
	Traces map[string]types.Value
}

// Renderer turns mirrored channel state into a standalone HTML document.
type Renderer struct {
	title     string
	now       func() time.Time // injectable for deterministic tests
	tmpl      *template.Template
	lexer     chroma.Lexer
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

// New creates a Renderer whose documents carry title.
func New(title string) *Renderer {
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return &Renderer{
		title: title,
		now:   time.Now,
		tmpl:  template.Must(template.New("page").Parse(pageTmpl)),
		lexer: chroma.Coalesce(lexer),
		style: styles.Get(Style),
		// Inline styles keep the document self-contained.
		formatter: chromahtml.New(chromahtml.WithClasses(false)),
	}
}

type pageData struct {
	Title    string
	VizID    string
	Rendered string
	Info     template.HTML
	Traces   []traceData
}

type traceData struct {
	ID   string
	Body template.HTML
}

// Render returns the HTML document for s. Traces appear in id order.
func (r *Renderer) Render(s State) (string, error) {
	ids := make([]string, 0, len(s.Traces))
	for id := range s.Traces {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data := pageData{
		Title:    r.title,
		VizID:    s.VizID,
		Rendered: r.now().UTC().Format(time.RFC3339),
	}
	if len(s.Info) > 0 && string(s.Info) != "null" {
		info, err := r.highlight(s.Info)
		if err != nil {
			return "", fmt.Errorf("render: info: %w", err)
		}
		data.Info = info
	}
	for _, id := range ids {
		body, err := r.highlight(s.Traces[id])
		if err != nil {
			return "", fmt.Errorf("render: trace %q: %w", id, err)
		}
		data.Traces = append(data.Traces, traceData{ID: id, Body: body})
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: execute template: %w", err)
	}
	return buf.String(), nil
}

// highlight pretty-prints v and returns it as highlighted HTML. Payloads that
// are not valid JSON are shown verbatim.
func (r *Renderer) highlight(v types.Value) (template.HTML, error) {
	src := string(v)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, v, "", "  "); err == nil {
		src = pretty.String()
	}

	it, err := r.lexer.Tokenise(nil, src)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := r.formatter.Format(&out, r.style, it); err != nil {
		return "", err
	}
	return template.HTML(out.String()), nil //nolint:gosec // chroma escapes token text
}

const pageTmpl = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; }
section { margin-bottom: 1.5rem; }
h2 { font-size: 1rem; font-family: ui-monospace, monospace; }
footer { color: #666; font-size: 0.8rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{- if .Info}}
<section class="info">
<h2>info</h2>
{{.Info}}
</section>
{{- end}}
{{- range .Traces}}
<section class="trace" id="trace-{{.ID}}">
<h2>{{.ID}}</h2>
{{.Body}}
</section>
{{- else}}
<p class="empty">No traces.</p>
{{- end}}
<footer>channel {{.VizID}} rendered {{.Rendered}}</footer>
</body>
</html>
`
