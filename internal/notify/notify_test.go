package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"csgo-quant/internal/logger"
	"csgo-quant/internal/models"

	"github.com/gorilla/websocket"
)

var sample = []models.Alert{
	{ItemName: "AK-47 | Redline (Field-Tested)", Kind: "profit_50", Severity: models.SeverityWarning, Title: "AK 收益 62.0%", Value: 62},
	{ItemName: "AWP | Asiimov (Field-Tested)", Kind: "near_ath", Severity: models.SeverityWarning, Title: "AWP 接近历史高点"},
}

func TestWebhookNotifier(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), sample); err != nil {
		t.Fatal(err)
	}
	if got.MsgType != "text" || len(got.Alerts) != 2 {
		t.Fatalf("payload = %+v", got)
	}
	if !strings.Contains(got.Text.Content, "[WARNING] AK 收益 62.0%") {
		t.Fatalf("content = %q", got.Text.Content)
	}
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), sample); err == nil {
		t.Fatal("expected error on 502")
	}
}

type failing struct{ calls int }

func (f *failing) Notify(ctx context.Context, alerts []models.Alert) error {
	f.calls++
	return errors.New("down")
}

func TestMultiContinuesPastFailures(t *testing.T) {
	a, b := &failing{}, &failing{}
	err := Multi{a, NewLogNotifier(logger.Discard()), b}.Notify(context.Background(), sample)
	if err == nil || a.calls != 1 || b.calls != 1 {
		t.Fatalf("err = %v, calls = %d/%d", err, a.calls, b.calls)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(logger.Discard())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Notify(context.Background(), sample[:1]); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "alerts" || len(msg.Alerts) != 1 || msg.Alerts[0].Kind != "profit_50" {
		t.Fatalf("msg = %+v", msg)
	}
}
