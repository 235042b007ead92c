// Package render produces the HTML a headless viewer returns for a capture
// request: one section per trace, each payload pretty-printed and
// syntax-highlighted with chroma using inline styles.
package render
