package launch

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
)

var frameTmpl = template.Must(template.New("frame").Parse(
	`<iframe src="{{.URL}}" width="100%" height="{{.Height}}" frameborder="0"></iframe>` + "\n",
))

// FileEmbedder displays inline content by rewriting one HTML file, so each
// display replaces the previous one. Notebook front ends that render an HTML
// file (or a file watched by a preview pane) pick up the change.
type FileEmbedder struct {
	Path string
}

// Frame displays a live inline frame pointing at url.
func (e FileEmbedder) Frame(url string, height int) error {
	var buf bytes.Buffer
	if err := frameTmpl.Execute(&buf, struct {
		URL    string
		Height int
	}{url, height}); err != nil {
		return fmt.Errorf("launch: render frame: %w", err)
	}
	return e.replace(buf.Bytes())
}

// Display replaces the inline display with captured HTML.
func (e FileEmbedder) Display(html string) error {
	return e.replace([]byte(html))
}

// replace writes data next to Path and renames it into place.
func (e FileEmbedder) replace(data []byte) error {
	dir := filepath.Dir(e.Path)
	tmp, err := os.CreateTemp(dir, ".embed-*")
	if err != nil {
		return fmt.Errorf("launch: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("launch: write %q: %w", e.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("launch: write %q: %w", e.Path, err)
	}
	if err := os.Rename(tmp.Name(), e.Path); err != nil {
		return fmt.Errorf("launch: replace %q: %w", e.Path, err)
	}
	return nil
}
