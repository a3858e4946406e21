// Package repositories implements SQLite persistence for the bridge.
//
// Key Implementations:
//   - [CredentialRepository] : single-row storage of the sealed TokenSet blob
//   - [HistoryRepository] : record of finished imports for the history command
//
// Neither repository interprets its payload beyond what its queries need;
// sealing lives in the credentials package and operation lifecycles in the registry.
package repositories
