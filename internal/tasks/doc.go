// Package tasks moves model files from a source URL onto the platform with real-time progress reporting.
//
// # Pipeline
//
// [Importer.Start] validates the request, registers a pending operation and returns its id. The run then
// proceeds on its own goroutine:
//
//  1. downloading : stream the source into a temp file, bounded by size and time
//     - ZIP payloads are unpacked: the first entry matching the requested format wins
//  2. uploading : obtain a fresh token ([TokenProvider]) and stream a multipart create request ([Platform])
//     - no token means the run fails with kind auth and nothing is uploaded
//  3. processing : poll the platform operation at a constant interval until done or the poll timeout
//     - transport errors and non-2xx poll responses count as "not done yet"
//  4. succeeded | failed : terminal, with asset id or error kind and detail
//
// Steps 1 and 3 are never retried; only the poll loop repeats. Temp files are removed on every exit
// path, including panics.
//
// # Progress Reporting
//
// Runs publish [ProgressUpdate] values on an optional channel. Sends use select with default so a slow
// consumer never stalls a run.
//
// # History
//
// Terminal snapshots are handed to an optional [HistoryRecorder] (repositories.HistoryRepository).
// Recording errors are logged and otherwise ignored.
package tasks
