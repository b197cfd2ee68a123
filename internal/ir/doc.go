// Package ir holds the domain types shared by every evidence package:
// capture segments, ledger entries, records, and the structured Value
// used for open-ended caller metadata.
//
// This package imports nothing internal. All other internal packages
// import ir, so it stays the foundational layer.
//
// Key design constraints:
//   - NO float types in metadata - use Int or encode as String
//   - All JSON tags use snake_case
//   - Anything persisted or hashed goes through MarshalCanonical
//   - Identifiers are content-addressed (see hash.go), never random
package ir
