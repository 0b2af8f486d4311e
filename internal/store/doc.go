// Package store provides file-backed persistence for daemon state.
//
// Records are small JSON documents written atomically (temp file + rename)
// so a power cut mid-write leaves the previous record intact, never a
// truncated one. The daemon runs on flash-backed embedded targets where
// torn writes are a real failure mode.
//
// Architecture References:
//   - Architecture §6: Persistence model
package store
