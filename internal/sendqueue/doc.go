// Package sendqueue throttles and sequences outbound sends to Telegram.
//
// Every outbound message is admitted as a queue entry with an
// earliest-permitted dispatch time derived from the per-chat cooldown. A
// single worker goroutine pops due entries, re-validates them against the
// global 1-second sliding window and the chat cooldown, invokes the send
// operation, and retries rate-limited or transient failures with exponential
// backoff.
//
// Guarantees
//
// Per chat, dispatch follows admission order; retries only ever delay an
// entry, never reorder it ahead of earlier entries for the same chat. Across
// chats only best-effort timestamp ordering applies. Delivery is
// at-least-once, bounded by the retry limit. The queue is in-memory only:
// stopping the service rejects all pending entries with ErrStopped.
//
// Backlog observability
//
// Metrics() returns a point-in-time snapshot of the queued (not yet
// dispatched) entries. When an admission leaves the queue backed up beyond
// the configured thresholds, a debounced alert is sent to the operator chat.
package sendqueue
