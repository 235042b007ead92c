// Package assets serves each channel's static content and watches it for
// changes.
//
// Read(assetDir, rel) is the file source: it returns the bytes of one file
// or ErrNotFound. Paths that escape the directory, directories and missing
// files are all ErrNotFound.
//
// NewHandler(resolve, gzip) returns an http.Handler for
//
//	GET /{channelID}            -> 301 to /{channelID}/
//	GET /{channelID}/           -> index.html from the channel's directory
//	GET /{channelID}/{relPath}  -> that file, or 404
//
// Watch(ctx, dir, debounce, onChange) reports changed files so the server can
// tell viewers to reload.
package assets
