// Package server is the bridge's local HTTP control plane.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [MuxRouter] implements it on
// gorilla/mux so paths can carry variables ({operation_id}).
//
// [Middleware] wraps the router in reverse order (last added executes first). The bridge stacks
// [Recover], [Logging] and [CORS]; CORS runs before routing so foreign origins never reach a handler.
//
// # Endpoints
//
// [BridgeHandler] serves:
//
//	GET  /status                       running, connected, service, version, user_info
//	GET  /authorize, /roblox/authorize start an authorization, return its URL
//	POST /connect                      start an authorization and open the system browser
//	GET  /callback, /roblox/callback   OAuth redirect target, renders an HTML page
//	POST /import                       accept an import, 202 with its operation id
//	GET  /import/{operation_id}        snapshot of one import (alias /upload-status/{operation_id})
//	GET  /imports                      retained imports newest first, or ?source=history
//	POST /disconnect                   revoke and clear the stored credential
//
// Errors are JSON {"error", "detail"} with the status chosen by [StatusFor].
//
// # OAuth Callback Page
//
// The callback renders an embedded html/template. When the page was opened from the web app it posts
// ROBLOX_OAUTH_SUCCESS or ROBLOX_OAUTH_ERROR to the frontend origin; on success it closes itself.
package server
