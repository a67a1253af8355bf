package plugins

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

type noAccounts struct{}

func (noAccounts) MonitoredAccounts(context.Context) ([]api.MonitoredAccount, error) {
	return nil, nil
}

func TestDefault(t *testing.T) {
	r := Default()

	var names []string
	for _, p := range r.List() {
		names = append(names, p.Name())
	}
	if len(names) != 2 || names[0] != "imap" || names[1] != "mbox" {
		t.Errorf("plugins: %v", names)
	}

	if err := r.Register(&IMAP{}); err == nil {
		t.Error("registering a duplicate should fail")
	}
	if _, err := r.Get("gmail"); err == nil {
		t.Error("unknown plugin should fail")
	}
}

func TestCreate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := Default()

	tests := []struct {
		name    string
		source  string
		deps    Deps
		wantErr bool
	}{
		{"imap", "imap", Deps{Accounts: noAccounts{}, IMAPAddr: "imap.example.com:993"}, false},
		{"imap without accounts", "imap", Deps{IMAPAddr: "imap.example.com:993"}, true},
		{"imap without address", "imap", Deps{Accounts: noAccounts{}}, true},
		{"mbox", "mbox", Deps{Accounts: noAccounts{}, MboxFile: "mail.mbox", MboxChatID: 42}, false},
		{"mbox without file", "mbox", Deps{Accounts: noAccounts{}}, true},
		{"mbox without accounts", "mbox", Deps{MboxFile: "mail.mbox", MboxChatID: 42}, true},
		{"unknown", "pop3", Deps{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src, err := r.Create(tc.source, tc.deps, logger)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if tc.source == "mbox" && !src.Monitors(42) {
				t.Error("mbox source should monitor its chat")
			}
		})
	}
}
