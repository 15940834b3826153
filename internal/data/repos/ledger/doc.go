// Package ledger holds the GORM repositories for the provenance ledger tables.
//
// Every method takes a dbctx.Context. When Tx is set the call joins that transaction,
// otherwise it runs on the repo's own handle.
package ledger
