// Package types defines the wire messages exchanged between liveviz-server and
// its viewers (browser pages or liveviz-agent). Every frame is one JSON object
// whose "action" field selects the message kind.
//
// Viewer to server:
//
//	{"action":"connect",    "clientId":S, "vizId":S}
//	{"action":"disconnect", "clientId":S, "vizId":S}
//	{"action":"save",       "clientId":S, "vizId":S, "content":S, "requestId":S?}
//
// Server to viewer:
//
//	{"action":"initialize",  "traces":{...}, "info":ANY}
//	{"action":"putTrace",    "tId":S, "t":ANY}
//	{"action":"removeTrace", "tId":S}
//	{"action":"saveHTML",    "requestId":S?}
//	{"action":"reload",      "path":S}
//
// Trace and info payloads are carried as Value and never interpreted.
package types
