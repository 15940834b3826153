// Package aggregates contains the transactional write boundaries of the ledger.
//
// Implementations compose table-level repos from internal/data/repos and run the
// guardrail pass, the confidence computation and the inserts in one transaction.
package aggregates
