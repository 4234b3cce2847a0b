package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
)

const testAccountID = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"

type fakeGateway struct {
	detailFailures int
	detailCalls    int
	detailErr      error
	state          *AccountState

	submitErr error
	receipt   *Receipt
	submitted []*txnbuild.Transaction

	funded    []string
	airdroped []string
}

func (f *fakeGateway) AccountDetail(_ context.Context, accountID string) (*AccountState, error) {
	f.detailCalls++
	if f.detailCalls <= f.detailFailures {
		if f.detailErr != nil {
			return nil, f.detailErr
		}
		return nil, errors.New("account not found yet")
	}
	if f.state == nil {
		return &AccountState{ID: accountID, Sequence: 100}, nil
	}
	clone := *f.state
	return &clone, nil
}

func (f *fakeGateway) SubmitTransaction(_ context.Context, tx *txnbuild.Transaction) (*Receipt, error) {
	f.submitted = append(f.submitted, tx)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &Receipt{Hash: "deadbeef", Ledger: 42}, nil
}

func (f *fakeGateway) Fund(_ context.Context, address string) error {
	f.funded = append(f.funded, address)
	return nil
}

func (f *fakeGateway) Airdrop(_ context.Context, address string) error {
	f.airdroped = append(f.airdroped, address)
	return nil
}

func newTestClient(t *testing.T, gw Gateway, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{WithSleep(func(context.Context, time.Duration) error { return nil })}
	client, err := NewClient(gw, network.TestNetworkPassphrase, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestLoadAccountRetriesThenSucceeds(t *testing.T) {
	gw := &fakeGateway{detailFailures: 3}
	var delays []time.Duration
	client := newTestClient(t, gw, WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	state, err := client.LoadAccount(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("LoadAccount returned error: %v", err)
	}
	if state.ID != testAccountID {
		t.Fatalf("unexpected account id %s", state.ID)
	}
	if gw.detailCalls != 4 {
		t.Fatalf("expected 4 attempts, got %d", gw.detailCalls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d backoffs, got %d", len(want), len(delays))
	}
	for i, d := range want {
		if delays[i] != d {
			t.Fatalf("backoff %d: expected %s, got %s", i, d, delays[i])
		}
	}
}

func TestLoadAccountRejectsMalformedAddress(t *testing.T) {
	gw := &fakeGateway{}
	client := newTestClient(t, gw)

	_, err := client.LoadAccount(context.Background(), "not-an-address")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if gw.detailCalls != 0 {
		t.Fatal("malformed address must not reach the gateway")
	}
}

func TestLoadAccountExhaustsRetries(t *testing.T) {
	cause := errors.New("still not visible")
	gw := &fakeGateway{detailFailures: 100, detailErr: cause}
	client := newTestClient(t, gw, WithMaxRetries(2))

	_, err := client.LoadAccount(context.Background(), testAccountID)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if xerrors.CodeOf(err) != CodeRetriesExhausted {
		t.Fatalf("expected RETRIES_EXHAUSTED, got %s", xerrors.CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("exhaustion error should wrap the last fetch error")
	}
	if gw.detailCalls != 3 {
		t.Fatalf("maxRetries=2 should mean 3 attempts, got %d", gw.detailCalls)
	}
}

func TestLoadAccountHonoursContextCancel(t *testing.T) {
	gw := &fakeGateway{detailFailures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t, gw, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := client.LoadAccount(ctx, testAccountID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func paymentStep(t *testing.T, source *keypair.Full, state *AccountState) Step {
	t.Helper()
	dest := keypair.MustRandom()
	return Step{
		State:   state,
		Signers: []*keypair.Full{source},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: dest.Address(),
				Amount:      "10",
				Asset:       txnbuild.NativeAsset{},
			},
		},
	}
}

func TestBuildAndSubmitReturnsReceipt(t *testing.T) {
	source := keypair.MustRandom()
	gw := &fakeGateway{receipt: &Receipt{Hash: "abc123", Ledger: 7, ResultXDR: "AAAA"}}
	client := newTestClient(t, gw)

	state := &AccountState{ID: source.Address(), Sequence: 100}
	receipt, err := client.BuildAndSubmit(context.Background(), paymentStep(t, source, state))
	if err != nil {
		t.Fatalf("BuildAndSubmit returned error: %v", err)
	}
	if receipt.Hash != "abc123" || receipt.Ledger != 7 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(gw.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(gw.submitted))
	}
	seq := gw.submitted[0].SequenceNumber()
	if seq != 101 {
		t.Fatalf("expected sequence 101, got %d", seq)
	}
	if len(gw.submitted[0].Signatures()) != 1 {
		t.Fatal("transaction should carry one signature")
	}
}

func TestBuildAndSubmitRejectsConsumedState(t *testing.T) {
	source := keypair.MustRandom()
	gw := &fakeGateway{}
	client := newTestClient(t, gw)

	state := &AccountState{ID: source.Address(), Sequence: 5}
	if _, err := client.BuildAndSubmit(context.Background(), paymentStep(t, source, state)); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	_, err := client.BuildAndSubmit(context.Background(), paymentStep(t, source, state))
	if !errors.Is(err, ErrStaleAccountState) {
		t.Fatalf("expected stale state error, got %v", err)
	}
	if len(gw.submitted) != 1 {
		t.Fatal("stale state must not reach the gateway")
	}
}

func TestBuildAndSubmitPropagatesRejection(t *testing.T) {
	source := keypair.MustRandom()
	rejection := xerrors.New(CodeSubmissionRejected, "tx_failed",
		xerrors.WithMetadata("transaction_result", "tx_failed"),
		xerrors.WithMetadata("operation_results", "op_underfunded"))
	gw := &fakeGateway{submitErr: rejection}
	client := newTestClient(t, gw)

	state := &AccountState{ID: source.Address(), Sequence: 1}
	_, err := client.BuildAndSubmit(context.Background(), paymentStep(t, source, state))
	if !IsRejected(err) {
		t.Fatalf("expected submission rejection, got %v", err)
	}
	e, ok := xerrors.From(err)
	if !ok {
		t.Fatal("rejection should be a structured error")
	}
	if e.Metadata()["operation_results"] != "op_underfunded" {
		t.Fatalf("rejection metadata lost: %v", e.Metadata())
	}
}

func TestSignEnvelopeAddsSignature(t *testing.T) {
	source := keypair.MustRandom()
	gw := &fakeGateway{}
	client := newTestClient(t, gw)

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &AccountState{ID: source.Address(), Sequence: 9},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: keypair.MustRandom().Address(),
				Amount:      "1",
				Asset:       txnbuild.NativeAsset{},
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
	if err != nil {
		t.Fatalf("build unsigned tx: %v", err)
	}
	envelope, err := tx.Base64()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}

	signedXDR, err := client.SignEnvelope(envelope, source)
	if err != nil {
		t.Fatalf("SignEnvelope returned error: %v", err)
	}
	generic, err := txnbuild.TransactionFromXDR(signedXDR)
	if err != nil {
		t.Fatalf("decode signed envelope: %v", err)
	}
	signed, ok := generic.Transaction()
	if !ok {
		t.Fatal("signed envelope is not a simple transaction")
	}
	if len(signed.Signatures()) != 1 {
		t.Fatalf("expected one signature, got %d", len(signed.Signatures()))
	}
}
