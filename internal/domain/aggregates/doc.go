// Package aggregates defines the ledger's write contracts and its error taxonomy.
//
// Contracts avoid persistence and transport details. They mark the write boundaries where
// provenance invariants (licensed evidence, trusted sources, one current version per fact)
// must hold atomically.
package aggregates
