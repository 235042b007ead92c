// Package ws implements the WebSocket hub for liveviz-server.
//
// Hub owns the table of visualization channels (channel id to channel) and
// every upgraded viewer connection. Each connection gets a read goroutine
// that dispatches control messages and a write goroutine that drains a
// bounded outbound queue and sends pings.
//
// Control messages (JSON text frames):
//
//	{"action":"connect",    "clientId":"v1", "vizId":"<channel id>"}
//	{"action":"disconnect", "clientId":"v1", "vizId":"<channel id>"}
//	{"action":"save",       "clientId":"v1", "vizId":"<channel id>", "content":"<html>", "requestId":"..."}
//
// Messages naming an unknown channel, unknown actions and malformed JSON are
// dropped without closing the connection. When a connection closes, every
// registration it made is removed unless the viewer id has since been
// re-registered on another connection.
//
// Hub.Upgrades routes upgrade requests on any path to the hub so viewers can
// open their socket on the same URL that served their page. The upgrader
// accepts all origins; apply origin restrictions at the reverse proxy.
package ws
