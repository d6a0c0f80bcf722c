package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/streamledger/internal/core/domain"
)

func TestHTTPNotifier(t *testing.T) {
	var got domain.Notification
	var auth, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "secret", 0)
	defer n.Close()

	err := n.Notify(context.Background(), domain.Notification{ID: "n1", UserID: "SP1", Type: domain.NotificationStreamCreated})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if auth != "Bearer secret" || key != "n1" {
		t.Errorf("unexpected headers: auth=%q key=%q", auth, key)
	}
	if got.UserID != "SP1" || got.Type != domain.NotificationStreamCreated {
		t.Errorf("unexpected body: %+v", got)
	}
}

func TestHTTPNotifier_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(srv.URL, "", 0).Notify(context.Background(), domain.Notification{ID: "n1"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusServiceUnavailable || !se.Temporary() || se.Body != "down" {
		t.Errorf("unexpected status error: %+v", se)
	}
}
