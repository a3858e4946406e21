// Package auth implements the OAuth session manager for the bridge's single platform account.
//
// # Flow
//
//	Disconnected --Begin--> AwaitingCallback --callback ok--> Connected
//	AwaitingCallback --timeout | state mismatch | denied--> Disconnected
//	Connected --refresh--> Connected
//	Connected --Disconnect | refresh rejected--> Disconnected
//
// [Manager.BeginAuthorization] produces an authorization URL carrying a fresh state and a PKCE (S256)
// challenge. Only the most recent request is honoured, and a callback consumes it whether or not it succeeds.
//
// Tokens live in a [credentials.Store]. [Manager.EnsureFreshToken] refreshes them through
// [golang.org/x/oauth2] when they are within the refresh margin of expiry, collapsing concurrent
// refreshes with [golang.org/x/sync/singleflight].
//
// # Refresh Failures
//
// An error response from the token endpoint means the grant is gone: the store is cleared and the
// session is Disconnected. Transport errors leave the stored set in place for the next attempt.
// Both surface as [shared.ErrRefreshFailed].
package auth
