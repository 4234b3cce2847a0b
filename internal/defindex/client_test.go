package defindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "secret", Network: "testnet"})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, server
}

func TestCreateVaultRequestsEnvelope(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("network") != "testnet" {
			t.Errorf("missing network query param, got %q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"xdr": "AAAA-unsigned"})
	})

	manager := "GDMANAGER"
	xdr, err := client.CreateVault(context.Background(), CreateVaultRequest{
		Roles:  Roles{EmergencyManager: manager, FeeReceiver: manager, Manager: manager, RebalanceManager: manager},
		FeeBPS: 100,
		Assets: []AssetAllocation{{
			Address:    "CASSET",
			Strategies: []Strategy{{Address: "CSTRAT", Name: "hodl", Paused: false}},
		}},
		Name:       "Workshop Vault",
		Symbol:     "WSV",
		Upgradable: true,
		Caller:     manager,
		Deposits:   []string{"10000000"},
	})
	if err != nil {
		t.Fatalf("CreateVault returned error: %v", err)
	}
	if xdr != "AAAA-unsigned" {
		t.Fatalf("unexpected envelope %q", xdr)
	}
	if gotPath != "/vault" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("api key not forwarded, got %q", gotAuth)
	}
	roles, ok := gotBody["roles"].(map[string]any)
	if !ok {
		t.Fatalf("roles not marshalled as indexed map: %v", gotBody["roles"])
	}
	for _, idx := range []string{"0", "1", "2", "3"} {
		if roles[idx] != manager {
			t.Fatalf("role %s should be the manager, got %v", idx, roles[idx])
		}
	}
	if gotBody["vault_fee_bps"].(float64) != 100 {
		t.Fatalf("fee bps lost: %v", gotBody["vault_fee_bps"])
	}
}

func TestDepositRequestsEnvelope(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"xdr": "BBBB-unsigned"})
	})

	xdr, err := client.Deposit(context.Background(), "CVAULT123", DepositRequest{
		Amounts:     []string{"5000000"},
		Caller:      "GDEPOSITOR",
		Invest:      true,
		SlippageBPS: 50,
	})
	if err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if xdr != "BBBB-unsigned" {
		t.Fatalf("unexpected envelope %q", xdr)
	}
	if gotPath != "/vault/CVAULT123/deposit" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody["invest"] != true {
		t.Fatal("invest flag lost")
	}
	if gotBody["slippageBps"].(float64) != 50 {
		t.Fatalf("slippage lost: %v", gotBody["slippageBps"])
	}
}

func TestSendReturnsStructuredResult(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["xdr"] != "SIGNED" {
			t.Errorf("signed envelope not forwarded, got %q", body["xdr"])
		}
		_ = json.NewEncoder(w).Encode(SubmitResult{
			Status:      "SUCCESS",
			Hash:        "txhash",
			ReturnValue: "CVAULTADDR",
		})
	})

	result, err := client.Send(context.Background(), "SIGNED")
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if result.ReturnValue != "CVAULTADDR" {
		t.Fatalf("contract address lost: %+v", result)
	}
}

func TestSendRejectsFailedStatus(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(SubmitResult{Status: "FAILED", Hash: "txhash"})
	})

	_, err := client.Send(context.Background(), "SIGNED")
	if xerrors.CodeOf(err) != xerrors.CodeSubmissionRejected {
		t.Fatalf("expected SUBMISSION_REJECTED, got %v", err)
	}
}

func TestClientStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   xerrors.Code
	}{
		{"client error is rejection", http.StatusBadRequest, `{"error":"bad amounts"}`, xerrors.CodeSubmissionRejected},
		{"server error is unavailable", http.StatusBadGateway, "upstream down", xerrors.CodeGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.CreateVault(context.Background(), CreateVaultRequest{
				Assets: []AssetAllocation{{Address: "CASSET"}},
			})
			if xerrors.CodeOf(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
			e, _ := xerrors.From(err)
			if e.Metadata()["detail"] == "" {
				t.Fatal("structured detail missing from error metadata")
			}
		})
	}
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("empty base URL should be rejected")
	}
}
