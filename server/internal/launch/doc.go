// Package launch implements the collaborators that put a channel in front of
// a person: Browser opens a viewer URL in a local browser (go-rod's browser
// lookup), FileEmbedder shows an inline frame or captured HTML by replacing a
// single HTML file.
package launch
