// Package viewer implements the headless viewer run by liveviz-agent.
//
// A Viewer dials the server, sends connect for one channel and mirrors the
// channel's traces from initialize, putTrace and removeTrace frames. A
// saveHTML frame is answered with a save carrying the frame's requestId and
// the HTML produced by the Renderer. A lost connection is retried with
// truncated exponential backoff (±25% jitter); every new connection starts
// from a fresh initialize. On shutdown the viewer sends disconnect before
// closing.
//
// A Pool runs one Viewer per subscribed channel. Sync(ctx, ids) starts and
// stops viewers so the running set matches ids, which lets the agent follow
// config reloads.
package viewer
