package plugins

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/pointsbot/pkg/api"
	imapreader "github.com/ArionMiles/pointsbot/pkg/reader/imap"
	mboxreader "github.com/ArionMiles/pointsbot/pkg/reader/mbox"
)

// IMAP polls the mailboxes of every registered user.
type IMAP struct{}

// Name returns the plugin name.
func (p *IMAP) Name() string {
	return "imap"
}

// Description returns a human-readable description.
func (p *IMAP) Description() string {
	return "Poll registered IMAPS mailboxes for purchase confirmations"
}

// NewSource creates an IMAP reader.
func (p *IMAP) NewSource(deps Deps, logger *slog.Logger) (Source, error) {
	if deps.Accounts == nil {
		return nil, errors.New("imap source needs an account source")
	}
	r, err := imapreader.New(deps.Accounts, imapreader.Config{
		Addr:     deps.IMAPAddr,
		Rules:    deps.Rules,
		Interval: deps.PollInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating imap reader: %w", err)
	}
	return r, nil
}

// Mbox replays a local mbox file on behalf of one chat.
type Mbox struct{}

// Name returns the plugin name.
func (p *Mbox) Name() string {
	return "mbox"
}

// Description returns a human-readable description.
func (p *Mbox) Description() string {
	return "Replay purchase confirmations from a local mbox file"
}

// NewSource creates an mbox reader.
func (p *Mbox) NewSource(deps Deps, logger *slog.Logger) (Source, error) {
	if deps.Accounts == nil {
		return nil, errors.New("mbox source needs an account source to find the owner of its chat")
	}
	r, err := mboxreader.New(mboxreader.Config{
		Path:     deps.MboxFile,
		Rules:    deps.Rules,
		Account:  api.MonitoredAccount{ChatID: deps.MboxChatID},
		Accounts: deps.Accounts,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating mbox reader: %w", err)
	}
	return r, nil
}
