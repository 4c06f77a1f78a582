// Package session persists conversation history as JSONL, one file
// per session. Appends are serialized per session and synced to disk;
// a torn final line from a crash is tolerated on load.
package session
