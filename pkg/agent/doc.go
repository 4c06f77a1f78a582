// Package agent runs model-driven conversations end to end: it
// resolves credentials into an ordered list of completion candidates,
// prepares the message context to fit the model window, drives the
// completion/tool loop, and reports progress through callbacks.
//
// A run walks its candidates in order and fails over on provider
// errors. Rate-limited candidates are remembered for the rest of the
// request so later failovers do not retry them. Runs for the same
// session are serialized through a command queue lane.
package agent
