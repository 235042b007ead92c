// Package export turns live channels into static output: SaveToFile writes a
// captured snapshot to disk, OpenInBrowser and OpenInNotebook hand the viewer
// URL to a Launcher or Embedder, and Capture runs caller work against a live
// inline view before freezing it into captured HTML.
package export
