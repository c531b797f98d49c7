package client_test

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redoubt-sec/redoubt/pkg/client"
)

func TestSession_saveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	saved := &client.SessionFile{
		ServerURL: "https://console.redoubt.example",
		Token:     "test-session-token",
		Email:     "dana@example.com",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	if err := client.SaveSession(path, saved); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	loaded, err := client.LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.Token != saved.Token {
		t.Errorf("unexpected token: %s", loaded.Token)
	}
	if loaded.ServerURL != saved.ServerURL {
		t.Errorf("unexpected server URL: %s", loaded.ServerURL)
	}
	if loaded.Expired() {
		t.Error("fresh session should not be expired")
	}
}

func TestNewFromSessionFile_expired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	stale := &client.SessionFile{
		ServerURL: "https://console.redoubt.example",
		Token:     "old-token",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := client.SaveSession(path, stale); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	_, err := client.NewFromSessionFile(path)
	if err == nil {
		t.Fatal("expected error for an expired session")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewFromSessionFile_missing(t *testing.T) {
	_, err := client.NewFromSessionFile(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("expected error for a missing session file")
	}
}
