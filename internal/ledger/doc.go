// Package ledger wraps access to the Stellar network: loading account state
// with bounded retry, building and submitting signed transactions, and the
// asset/liquidity-pool helpers shared by the workshop workflows.
package ledger
