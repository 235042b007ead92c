// Package channel implements one visualization session.
//
// A Channel holds a trace mapping (trace id to opaque JSON payload), an info
// blob, and the viewers registered on it. Every mutation is broadcast to the
// registered viewers in the order it was made; a viewer that joins later
// receives an initialize message carrying the whole mapping instead.
//
// Snapshot asks the viewers for their rendered HTML and blocks until one
// answers. Requests are tagged with a random requestId; a save carrying a
// different id only updates the latest snapshot.
package channel
