package ledger

import (
	"context"
	"errors"

	"github.com/stellar/go/txnbuild"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
)

// Balance is a single entry of an account's balance list. Code and Issuer are
// empty for the native asset.
type Balance struct {
	Asset  Asset  `json:"asset"`
	Amount string `json:"amount"`
}

// AccountState is an immutable snapshot of a ledger account taken at load
// time. A snapshot feeds exactly one transaction build: sequence numbers
// advance with every accepted transaction, so any later step must re-load.
type AccountState struct {
	ID       string
	Sequence int64
	Balances []Balance

	consumed bool
}

// GetAccountID implements txnbuild.Account.
func (s *AccountState) GetAccountID() string {
	return s.ID
}

// GetSequenceNumber implements txnbuild.Account.
func (s *AccountState) GetSequenceNumber() (int64, error) {
	return s.Sequence, nil
}

// IncrementSequenceNumber implements txnbuild.Account.
func (s *AccountState) IncrementSequenceNumber() (int64, error) {
	s.Sequence++
	return s.Sequence, nil
}

// BalanceFor returns the held amount of the given asset, or "" when the
// account holds no matching balance (e.g. missing trustline).
func (s *AccountState) BalanceFor(asset Asset) string {
	for _, b := range s.Balances {
		if b.Asset == asset {
			return b.Amount
		}
	}
	return ""
}

// Receipt summarises an accepted submission.
type Receipt struct {
	Hash      string
	Ledger    int32
	ResultXDR string
}

// Gateway abstracts the remote ledger endpoints the client depends on, so the
// workflows can be exercised against scripted fakes.
type Gateway interface {
	// AccountDetail fetches the current state of an account. It fails while
	// the account is not yet visible on the network.
	AccountDetail(ctx context.Context, accountID string) (*AccountState, error)
	// SubmitTransaction broadcasts a signed transaction and returns the
	// receipt, or a structured rejection.
	SubmitTransaction(ctx context.Context, tx *txnbuild.Transaction) (*Receipt, error)
	// Fund asks the network faucet to create and fund the account.
	Fund(ctx context.Context, address string) error
	// Airdrop funds the account through the RPC airdrop facility. Same
	// semantic contract as Fund, different backend.
	Airdrop(ctx context.Context, address string) error
}

// Errors shared across the ledger layer. CodeSubmissionRejected carries the
// gateway's result codes in the error metadata.
var (
	ErrRetryExhausted     = xerrors.New(CodeRetriesExhausted, "account state unobservable after bounded retries")
	ErrSubmissionRejected = xerrors.New(CodeSubmissionRejected, "transaction rejected by gateway")
	ErrGatewayUnavailable = xerrors.New(CodeGatewayUnavailable, "gateway unreachable")
	ErrStaleAccountState  = errors.New("account state already consumed; reload before building another transaction")
)

const (
	CodeRetriesExhausted   = xerrors.CodeRetriesExhausted
	CodeSubmissionRejected = xerrors.CodeSubmissionRejected
	CodeGatewayUnavailable = xerrors.CodeGatewayUnavailable
)

// IsRejected reports whether err carries the structured-rejection code.
func IsRejected(err error) bool {
	return xerrors.CodeOf(err) == CodeSubmissionRejected
}
