package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
)

func TestDingTalkWebhookPostsTextPayload(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer server.Close()

	sender := &DingTalkWebhook{URL: server.URL, Client: server.Client()}
	if err := sender.Send(context.Background(), "运行失败"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got["msgtype"] != "text" {
		t.Fatalf("msgtype = %v", got["msgtype"])
	}
	text, ok := got["text"].(map[string]any)
	if !ok || text["content"] != "运行失败" {
		t.Fatalf("payload text lost: %v", got)
	}
}

func TestSlackWebhookIncludesChannelWhenSet(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer server.Close()

	sender := &SlackWebhook{URL: server.URL, Client: server.Client()}
	if err := sender.Send(context.Background(), "#alerts", "boom"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got["channel"] != "#alerts" || got["text"] != "boom" {
		t.Fatalf("unexpected payload %v", got)
	}

	got = nil
	if err := sender.Send(context.Background(), "", "boom"); err != nil {
		t.Fatalf("Send without channel: %v", err)
	}
	if _, ok := got["channel"]; ok {
		t.Fatal("empty channel must be omitted so the webhook default applies")
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sender := &DingTalkWebhook{URL: server.URL, Client: server.Client()}
	if err := sender.Send(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 403 response")
	}
}

func TestSMTPMessageCarriesHeadersAndBody(t *testing.T) {
	sender := &SMTPEmailSender{Host: "mail.local", From: "ops@local"}
	msg := string(sender.message("[workshopd] [critical] GATEWAY_UNAVAILABLE", "网关不可达", []string{"a@local", "b@local"}))

	for _, want := range []string{
		"From: ops@local\r\n",
		"To: a@local, b@local\r\n",
		"Subject: [workshopd] [critical] GATEWAY_UNAVAILABLE\r\n",
		"charset=UTF-8",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if !strings.HasSuffix(msg, "\r\n网关不可达") {
		t.Fatalf("body must follow the blank line:\n%s", msg)
	}
}

type scriptedNotifier struct {
	channel Channel
	err     error
	events  []Event
}

func (n *scriptedNotifier) Channel() Channel { return n.channel }

func (n *scriptedNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func TestFanoutDeliversToAllChannelsAndJoinsErrors(t *testing.T) {
	ok := &scriptedNotifier{channel: ChannelSlack}
	bad := &scriptedNotifier{channel: ChannelDingTalk, err: errors.New("robot down")}
	dispatcher := NewFanout(ok, bad, nil)

	event := Event{
		Code:       xerrors.CodeGatewayUnavailable,
		Message:    "网关不可达",
		RunID:      "run-1",
		Kind:       "asset_issuance",
		OccurredAt: time.Now(),
	}
	err := dispatcher.Notify(context.Background(), event)
	if err == nil || !strings.Contains(err.Error(), "robot down") {
		t.Fatalf("expected joined error from failing channel, got %v", err)
	}
	if len(ok.events) != 1 || ok.events[0].RunID != "run-1" {
		t.Fatal("healthy channel should still receive the event")
	}
	if len(bad.events) != 1 {
		t.Fatal("failing channel should have been attempted")
	}
}
