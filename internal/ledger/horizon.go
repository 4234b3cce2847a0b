package ledger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/txnbuild"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
)

// HorizonGateway implements Gateway against a Horizon instance plus the
// network's friendbot endpoint. horizonclient does not thread contexts, so
// each method checks the context before touching the wire.
type HorizonGateway struct {
	horizon   *horizonclient.Client
	friendbot string
	http      *http.Client
}

// NewHorizonGateway builds a gateway for the given network definition.
func NewHorizonGateway(def NetworkDefinition) *HorizonGateway {
	timeout := time.Duration(def.TimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: timeout}
	return &HorizonGateway{
		horizon: &horizonclient.Client{
			HorizonURL: strings.TrimRight(def.HorizonURL, "/"),
			HTTP:       httpClient,
		},
		friendbot: strings.TrimRight(def.FriendbotURL, "/"),
		http:      httpClient,
	}
}

// AccountDetail implements Gateway.
func (g *HorizonGateway) AccountDetail(ctx context.Context, accountID string) (*AccountState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := g.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		if herr := horizonclient.GetError(err); herr != nil && herr.Problem.Status == http.StatusNotFound {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err, fmt.Sprintf("account %s not found", accountID))
		}
		return nil, xerrors.Wrap(CodeGatewayUnavailable, err, "fetch account "+accountID)
	}
	state := &AccountState{
		ID:       acct.AccountID,
		Sequence: acct.Sequence,
		Balances: make([]Balance, 0, len(acct.Balances)),
	}
	for _, b := range acct.Balances {
		asset := Native
		if b.Asset.Type != "native" {
			asset = Asset{Code: b.Asset.Code, Issuer: b.Asset.Issuer}
		}
		state.Balances = append(state.Balances, Balance{Asset: asset, Amount: b.Balance})
	}
	return state, nil
}

// SubmitTransaction implements Gateway. Horizon-side rejections come back as
// SUBMISSION_REJECTED with the result codes in the metadata; anything else is
// a transport failure.
func (g *HorizonGateway) SubmitTransaction(ctx context.Context, tx *txnbuild.Transaction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := g.horizon.SubmitTransaction(tx)
	if err != nil {
		herr := horizonclient.GetError(err)
		if herr == nil {
			return nil, xerrors.Wrap(CodeGatewayUnavailable, err, "submit transaction")
		}
		opts := []xerrors.Option{
			xerrors.WithMetadata("status", strconv.Itoa(herr.Problem.Status)),
			xerrors.WithMetadata("detail", herr.Problem.Detail),
		}
		if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
			opts = append(opts, xerrors.WithMetadata("transaction_result", codes.TransactionCode))
			if codes.InnerTransactionCode != "" {
				opts = append(opts, xerrors.WithMetadata("inner_transaction_result", codes.InnerTransactionCode))
			}
			if len(codes.OperationCodes) > 0 {
				opts = append(opts, xerrors.WithMetadata("operation_results", strings.Join(codes.OperationCodes, ",")))
			}
		}
		return nil, xerrors.Wrap(CodeSubmissionRejected, err, herr.Problem.Title, opts...)
	}
	return &Receipt{
		Hash:      resp.Hash,
		Ledger:    resp.Ledger,
		ResultXDR: resp.ResultXdr,
	}, nil
}

// Fund implements Gateway through Horizon's friendbot proxy.
func (g *HorizonGateway) Fund(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.horizon.Fund(address); err != nil {
		return xerrors.Wrap(CodeGatewayUnavailable, err, "friendbot fund "+address)
	}
	return nil
}

// Airdrop implements Gateway by calling the friendbot endpoint directly.
func (g *HorizonGateway) Airdrop(ctx context.Context, address string) error {
	if g.friendbot == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "network has no friendbot endpoint")
	}
	target := g.friendbot + "?addr=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeGatewayUnavailable, err, "airdrop "+address)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.New(CodeGatewayUnavailable,
			fmt.Sprintf("airdrop %s: status %d: %s", address, resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return nil
}
