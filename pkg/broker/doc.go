// Package broker routes JSON-line RPC between module processes.
//
// Each attached module contributes a line reader goroutine. Readers hand
// complete lines to a single event loop, which owns the module table, the
// pending call table and the stats updates. A line carrying "method" is a
// request: it is checked against the capability graph, recorded as pending
// under its id and forwarded verbatim to the target module. Any other line
// is a response: its id is looked up, the stats are settled and the line is
// forwarded verbatim to the original caller.
//
// Refusals produced by the broker itself (forbidden calls, unavailable or
// failed modules, expired calls) are ordinary responses with an
// {"codename","message"} error object and travel the same resolve path as
// module replies.
//
// Writes to module pipes happen on the loop and block while a pipe is full,
// so a slow module slows the whole broker down instead of growing buffers.
package broker
