// Package conversation implements the process-wide store of per-session
// message history. Conversations are created lazily on first access, expire
// after an absolute idle TTL, and expose a bounded exchange window for
// prompt construction while retaining the full history for export.
package conversation
