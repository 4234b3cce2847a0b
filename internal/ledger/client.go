package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
	"github.com/chopan123/stellar-workshop-dmb/pkg/logger"
)

const (
	// DefaultMaxRetries bounds LoadAccount's re-fetch loop.
	DefaultMaxRetries = 5
	// DefaultTimeoutSeconds is the transaction timebound applied when a step
	// does not set one.
	DefaultTimeoutSeconds = 300

	retryDelayUnit = 2 * time.Second
)

// SleepFunc waits for d or until the context is cancelled. Injectable so
// tests can record the backoff schedule instead of sleeping through it.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client drives a single Stellar network: account loading with bounded retry
// and the build/sign/submit step shared by all workflows.
type Client struct {
	gateway    Gateway
	passphrase string
	baseFee    int64
	maxRetries int
	delayUnit  time.Duration
	sleep      SleepFunc
	log        *slog.Logger
}

// ClientOption configures optional client behaviour.
type ClientOption func(*Client)

// WithMaxRetries overrides the loader's retry budget.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBaseFee overrides the per-operation base fee in stroops.
func WithBaseFee(fee int64) ClientOption {
	return func(c *Client) {
		if fee > 0 {
			c.baseFee = fee
		}
	}
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep SleepFunc) ClientOption {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithDelayUnit overrides the linear backoff unit (attempt i waits
// (i+1)*unit).
func WithDelayUnit(unit time.Duration) ClientOption {
	return func(c *Client) {
		if unit > 0 {
			c.delayUnit = unit
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient builds a client over the gateway for the network identified by
// its passphrase.
func NewClient(gateway Gateway, passphrase string, opts ...ClientOption) (*Client, error) {
	if gateway == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger client requires a gateway")
	}
	if passphrase == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger client requires a network passphrase")
	}
	c := &Client{
		gateway:    gateway,
		passphrase: passphrase,
		baseFee:    txnbuild.MinBaseFee,
		maxRetries: DefaultMaxRetries,
		delayUnit:  retryDelayUnit,
		sleep:      defaultSleep,
		log:        logger.Named("ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Passphrase returns the network passphrase the client signs for.
func (c *Client) Passphrase() string {
	return c.passphrase
}

// Fund asks the network faucet to create and fund the account.
func (c *Client) Fund(ctx context.Context, address string) error {
	return c.gateway.Fund(ctx, address)
}

// Airdrop funds the account through the direct friendbot facility.
func (c *Client) Airdrop(ctx context.Context, address string) error {
	return c.gateway.Airdrop(ctx, address)
}

// LoadAccount fetches a fresh snapshot of the account, retrying while the
// account is not yet observable. Attempt i (0-indexed) backs off
// (i+1)*delayUnit before the next try; after maxRetries+1 failed attempts the
// call fails with RETRIES_EXHAUSTED wrapping the last fetch error. Snapshots
// are never cached: sequence numbers advance with every accepted transaction.
func (c *Client) LoadAccount(ctx context.Context, accountID string) (*AccountState, error) {
	// A malformed address never becomes observable; fail before the retry loop.
	if !strkey.IsValidEd25519PublicKey(accountID) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid account id "+accountID)
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.delayUnit
			c.log.Debug("account not yet observable, backing off",
				"account", accountID, "attempt", attempt, "delay", delay.String())
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		state, err := c.gateway.AccountDetail(ctx, accountID)
		if err == nil {
			return state, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, xerrors.Wrap(CodeRetriesExhausted, lastErr,
		fmt.Sprintf("account %s unobservable after %d attempts", accountID, c.maxRetries+1))
}

// Step is one build/sign/submit unit. State must be a snapshot loaded for
// this step: the builder consumes it, and a consumed snapshot cannot feed a
// second transaction (the sequence number it carries is already spent).
type Step struct {
	State          *AccountState
	Signers        []*keypair.Full
	Operations     []txnbuild.Operation
	Memo           txnbuild.Memo
	TimeoutSeconds int64
}

// BuildAndSubmit assembles a transaction from the step, signs it with every
// signer, and broadcasts it. Acceptance yields a receipt; a gateway rejection
// surfaces as SUBMISSION_REJECTED with the structured result codes attached.
func (c *Client) BuildAndSubmit(ctx context.Context, step Step) (*Receipt, error) {
	if step.State == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "step requires loaded account state")
	}
	if len(step.Signers) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "step requires at least one signer")
	}
	if len(step.Operations) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "step requires at least one operation")
	}
	if step.State.consumed {
		return nil, ErrStaleAccountState
	}
	step.State.consumed = true

	timeout := step.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        step.State,
		IncrementSequenceNum: true,
		Operations:           step.Operations,
		BaseFee:              c.baseFee,
		Memo:                 step.Memo,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(timeout),
		},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build transaction")
	}
	signed, err := tx.Sign(c.passphrase, step.Signers...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sign transaction")
	}
	receipt, err := c.gateway.SubmitTransaction(ctx, signed)
	if err != nil {
		return nil, err
	}
	c.log.Info("transaction accepted",
		"source", step.State.ID, "hash", receipt.Hash, "ledger", receipt.Ledger)
	return receipt, nil
}

// SignEnvelope signs a base64 transaction envelope produced elsewhere (the
// vault gateway returns unsigned envelopes) and re-encodes it.
func (c *Client) SignEnvelope(envelopeXDR string, signers ...*keypair.Full) (string, error) {
	if len(signers) == 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "envelope requires at least one signer")
	}
	generic, err := txnbuild.TransactionFromXDR(envelopeXDR)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode transaction envelope")
	}
	tx, ok := generic.Transaction()
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "envelope is not a simple transaction")
	}
	signed, err := tx.Sign(c.passphrase, signers...)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sign transaction envelope")
	}
	return signed.Base64()
}
