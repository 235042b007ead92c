package assets

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
)

// IndexFile is served for a channel's root URL.
const IndexFile = "index.html"

// ErrNotFound is returned by Read when the file does not exist, is a
// directory, or lies outside the asset directory.
var ErrNotFound = errors.New("assets: not found")

// Read returns the contents of rel inside assetDir. An empty rel names
// IndexFile.
func Read(assetDir, rel string) ([]byte, error) {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += IndexFile
	}
	rel = path.Clean(rel)
	if !fs.ValidPath(rel) {
		return nil, ErrNotFound
	}

	fsys := os.DirFS(assetDir)
	info, err := fs.Stat(fsys, rel)
	if err != nil || info.IsDir() {
		return nil, ErrNotFound
	}
	data, err := fs.ReadFile(fsys, rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Resolver maps a channel id to its asset directory.
type Resolver func(channelID string) (assetDir string, ok bool)

// Handler serves GET /{channelID}/ and GET /{channelID}/{relPath}.
type Handler struct {
	resolve Resolver
}

// NewHandler returns the static asset handler. When gzip is set responses are
// compressed for clients that accept it.
func NewHandler(resolve Resolver, gzip bool) http.Handler {
	h := &Handler{resolve: resolve}

	r := chi.NewRouter()
	r.Get("/{channelID}", h.redirect)
	r.Get("/{channelID}/*", h.serve)
	if gzip {
		return gzhttp.GzipHandler(r)
	}
	return r
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channelID")
	if _, ok := h.resolve(id); !ok {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/"+id+"/", http.StatusMovedPermanently)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channelID")
	dir, ok := h.resolve(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	rel := chi.URLParam(r, "*")
	data, err := Read(dir, rel)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("assets: read failed", "channel", id, "path", rel, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	name := rel
	if name == "" || strings.HasSuffix(name, "/") {
		name += IndexFile
	}
	// ServeContent derives Content-Type from the name and handles ranges.
	http.ServeContent(w, r, path.Base(name), modTime(dir, name), bytes.NewReader(data))
}

func modTime(dir, rel string) time.Time {
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
