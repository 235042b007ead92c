package launch

import (
	"errors"
	"log/slog"

	"github.com/go-rod/rod/lib/launcher"
)

// ErrNoBrowser is returned when no browser executable can be found.
var ErrNoBrowser = errors.New("launch: no browser found")

// Browser opens URLs in a locally installed browser. Open does not wait for
// the browser to exit.
type Browser struct{}

// Open starts the browser on url.
func (Browser) Open(url string) error {
	if _, ok := launcher.LookPath(); !ok {
		return ErrNoBrowser
	}
	launcher.Open(url)
	slog.Info("launch: opened browser", "url", url)
	return nil
}
