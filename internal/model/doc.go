// Package model provides the shared record types for indexsync.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal.
//
// Key design constraints:
//   - Entity identifiers are opaque strings once serialized (see EncodeKey)
//   - A session cursor is a nullable string; nil means "not started"
//   - Queue entries are append-only and carry no ordering guarantee beyond
//     their store sequence number
//   - All JSON tags use snake_case
package model
