package wallet

import (
	"context"
	"testing"

	"github.com/stellar/go/txnbuild"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
	"github.com/chopan123/stellar-workshop-dmb/internal/ledger"
)

type fakeGateway struct {
	state     *ledger.AccountState
	detailErr error
	funded    []string
}

func (f *fakeGateway) AccountDetail(_ context.Context, id string) (*ledger.AccountState, error) {
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	if f.state == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "account missing")
	}
	return f.state, nil
}

func (f *fakeGateway) SubmitTransaction(context.Context, *txnbuild.Transaction) (*ledger.Receipt, error) {
	return nil, xerrors.New(xerrors.CodeGatewayUnavailable, "not implemented")
}

func (f *fakeGateway) Fund(_ context.Context, address string) error {
	f.funded = append(f.funded, address)
	return nil
}

func (f *fakeGateway) Airdrop(_ context.Context, address string) error {
	return f.Fund(nil, address)
}

func TestBalancesSplitsNativeAndAssets(t *testing.T) {
	gw := &fakeGateway{}
	w, err := New(gw)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	issuer := "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
	gw.state = &ledger.AccountState{
		ID:       w.Address(),
		Sequence: 100,
		Balances: []ledger.Balance{
			{Asset: ledger.Asset{}, Amount: "9999.9999900"},
			{Asset: ledger.Asset{Code: "DMB", Issuer: issuer}, Amount: "42.0000000"},
		},
	}

	balances, err := w.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if balances.Native != "9999.9999900" {
		t.Fatalf("unexpected native balance: %s", balances.Native)
	}
	if len(balances.Assets) != 1 || balances.Assets[0].Asset.Code != "DMB" {
		t.Fatalf("unexpected asset balances: %+v", balances.Assets)
	}
}

func TestBalancesBeforeFunding(t *testing.T) {
	gw := &fakeGateway{}
	w, err := New(gw)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	balances, err := w.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances on unfunded account: %v", err)
	}
	if balances.Native != "" || len(balances.Assets) != 0 {
		t.Fatalf("expected empty balances, got %+v", balances)
	}
}

func TestFundDelegatesToGateway(t *testing.T) {
	gw := &fakeGateway{}
	w, err := New(gw)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	if err := w.Fund(context.Background()); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(gw.funded) != 1 || gw.funded[0] != w.Address() {
		t.Fatalf("unexpected fund calls: %+v", gw.funded)
	}
}
