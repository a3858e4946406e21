// Package services contains the HTTP clients the bridge and its CLI speak through.
//
// # Roblox Open Cloud
//
// [RobloxClient] covers the endpoints used once a token is in hand: userinfo, token revocation,
// asset creation and operation polling. OAuth authorization and token refresh themselves go through
// [golang.org/x/oauth2] in the auth package.
//
// Asset creation streams a multipart body with two parts:
//   - request: JSON metadata (assetType, displayName, description, creationContext.creator.userId)
//   - fileContent: the model file, named model.<format> with the format's MIME type
//
// The response describes a long-running [Operation]; its id is the last segment of its path.
// Asset ids may arrive as JSON strings or numbers and are decoded through [FlexString].
//
// # Bridge API
//
// [APIService] is the client for a running bridge's control plane. Raw Get/Post return an
// [APIResponse]; typed helpers (Status, Connect, StartImport, ImportStatus, Imports, Disconnect)
// decode the JSON bodies.
//
// # Error Handling
//
//   - [shared.ErrAPIRequest] : unexpected status or undecodable body ([StatusError] carries the code)
//   - [shared.ErrUploadFailed] : asset creation rejected or interrupted
//   - [shared.ErrServiceUnavailable] : the bridge could not be reached
//   - [shared.ErrNotFound] : unknown import operation
package services
