// Package models defines the data model shared by the bridge's components.
//
// Three kinds of records exist:
//
//   - [TokenSet] : the single platform credential, present exactly while the bridge is connected
//   - [AuthorizationRequest] : the one outstanding OAuth authorization, superseded by each new one
//   - [ImportOperation] : one asynchronous download → upload → poll run, tracked by id
//
// [Status] values only move forward through pending, downloading, uploading, processing and then
// one of succeeded or failed. [Status.CanTransitionTo] encodes that ordering so the registry can reject regressions.
//
// [ErrorKind] tells a caller of a failed import whether to reconnect, fix the source URL, or retry later.
package models
