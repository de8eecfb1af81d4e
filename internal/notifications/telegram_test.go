package notifications

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendAlertPostsMessage(t *testing.T) {
	var gotPath, gotChat, gotText, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotChat = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		gotMode = r.FormValue("parse_mode")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345")
	n.apiBase = srv.URL

	if err := n.SendAlert("error", "BTCUSDT force-closed"); err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("Unexpected path %q", gotPath)
	}
	if gotChat != "12345" {
		t.Errorf("Expected chat_id 12345, got %q", gotChat)
	}
	if !strings.Contains(gotText, "BTCUSDT force-closed") {
		t.Errorf("Message body missing from text: %q", gotText)
	}
	if !strings.Contains(gotText, "🚨") {
		t.Errorf("Error level should carry the alert heading, got %q", gotText)
	}
	if gotMode != "Markdown" {
		t.Errorf("Expected Markdown parse mode, got %q", gotMode)
	}
}

func TestSendAlertSurfacesAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345")
	n.apiBase = srv.URL

	err := n.SendAlert("info", "hello")
	if err == nil {
		t.Fatal("Expected an error on a non-200 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("Error should carry the status code, got %v", err)
	}
}

func TestHeadingPerLevel(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"warning", "⚠️"},
		{"error", "🚨"},
		{"success", "✅"},
		{"info", "ℹ️"},
		{"anything-else", "ℹ️"},
	}

	for _, tt := range tests {
		if got := headingFor(tt.level); !strings.Contains(got, tt.want) {
			t.Errorf("headingFor(%q) = %q, expected to contain %q", tt.level, got, tt.want)
		}
	}
}
