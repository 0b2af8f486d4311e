// Package audit implements the append-only audit trail for btctld.
//
// Every northbound command is recorded as one JSON line carrying the
// acting user, action, target device, outcome, and latency. Writes are
// fsynced so the trail survives a daemon crash. The user field comes
// from the verified token claims when authentication is enabled and
// falls back to "anonymous" otherwise.
//
// Architecture References:
//   - Architecture §7.3: Audit trail schema
package audit
