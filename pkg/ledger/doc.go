// Package ledger holds the bookkeeping entities tracked by the lifecycle
// core: accounts, receipts with their line items, and posted transactions.
package ledger
