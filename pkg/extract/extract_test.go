package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

func defaultRule(t *testing.T, policy string) api.Rule {
	t.Helper()

	rule, err := ParseRule(RuleConfig{
		Name:       "Global Bank purchase",
		Enabled:    true,
		Senders:    []string{"contactenos@globalbank.com.pa"},
		Subject:    "CONFIRMACION",
		CardPolicy: policy,
	})
	if err != nil {
		t.Fatalf("failed to parse rule: %v", err)
	}
	return rule
}

func TestPurchase_Fixtures(t *testing.T) {
	tests := []struct {
		name         string
		emailFile    string
		wantMerchant string
		wantAmount   string
		wantCard     string
		wantBank     string
	}{
		{
			name:         "Global Bank purchase with PA suffix",
			emailFile:    "globalbank_compra_01.txt",
			wantMerchant: "ACME",
			wantAmount:   "45.00",
			wantCard:     "1234",
			wantBank:     "Global Bank",
		},
		{
			name:         "BAC purchase spanning lines",
			emailFile:    "bac_compra_01.txt",
			wantMerchant: "SUPER 99 VIA ESPANA",
			wantAmount:   "1250.46",
			wantCard:     "9876",
			wantBank:     "Bac Credomatic",
		},
	}

	rule := defaultRule(t, "")
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, err := loadEmailFixture(tc.emailFile)
			if err != nil {
				t.Fatalf("failed to load email fixture: %v", err)
			}

			p, err := Purchase(body, rule)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if p.Merchant != tc.wantMerchant {
				t.Errorf("merchant: got %q, want %q", p.Merchant, tc.wantMerchant)
			}
			if !p.Amount.Equal(decimal.RequireFromString(tc.wantAmount)) {
				t.Errorf("amount: got %s, want %s", p.Amount, tc.wantAmount)
			}
			if p.CardLast4 != tc.wantCard {
				t.Errorf("card: got %q, want %q", p.CardLast4, tc.wantCard)
			}
			if p.Bank != tc.wantBank {
				t.Errorf("bank: got %q, want %q", p.Bank, tc.wantBank)
			}
			if p.Rule != rule.Name {
				t.Errorf("rule: got %q, want %q", p.Rule, rule.Name)
			}
		})
	}
}

func TestPurchase_Failures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		policy  string
		wantErr error
	}{
		{
			name:    "no merchant",
			body:    "Su pago de servicios por $10.00 fue procesado.",
			wantErr: ErrMissingMerchant,
		},
		{
			name:    "no amount",
			body:    "Compra en ACME con tarjeta terminación 1234 aprobada.",
			wantErr: ErrMissingAmount,
		},
		{
			name:    "no card under strict policy",
			body:    "Compra en ACME con tarjeta de crédito por $12.00",
			policy:  "strict",
			wantErr: ErrMissingCard,
		},
		{
			name:    "three digit card under strict policy",
			body:    "Compra en ACME con tarjeta terminación 123 por $12.00",
			wantErr: ErrMissingCard,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Purchase(tc.body, defaultRule(t, tc.policy))
			if p != nil {
				t.Errorf("expected nil purchase, got %+v", p)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tc.wantErr)
			}

			var extractionErr *ExtractionError
			if !errors.As(err, &extractionErr) {
				t.Fatalf("expected *ExtractionError, got %T", err)
			}
		})
	}
}

func TestPurchase_EdgeCases(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		policy       string
		wantMerchant string
		wantAmount   string
		wantCard     string
		wantBank     string
	}{
		{
			name:         "lenient policy defaults card",
			body:         "Compra en FARMACIA ARROCHA con tarjeta de débito por $3.10",
			policy:       "lenient",
			wantMerchant: "FARMACIA ARROCHA",
			wantAmount:   "3.10",
			wantCard:     "0000",
			wantBank:     "Global Bank",
		},
		{
			name:         "compra de amount wins over earlier amount",
			body:         "Límite $5,000.00. Compra en ACME con tarjeta terminacion 4321, compra de $7.5",
			wantMerchant: "ACME",
			wantAmount:   "7.50",
			wantCard:     "4321",
			wantBank:     "Global Bank",
		},
		{
			name:         "half-up rounding",
			body:         "compra en ACME con tarjeta TERMINACIÓN 1111 compra de $10.005",
			wantMerchant: "ACME",
			wantAmount:   "10.01",
			wantCard:     "1111",
			wantBank:     "Global Bank",
		},
		{
			name:         "bank normalised to whitelist spelling",
			body:         "compra en CAFE UNIDO con tarjeta terminación 2222 por $4.25 BANCO GENERAL",
			wantMerchant: "CAFE UNIDO",
			wantAmount:   "4.25",
			wantCard:     "2222",
			wantBank:     "Banco General",
		},
		{
			name:         "carriage returns collapsed",
			body:         "compra en\r\nMULTIMAX\r\ncon tarjeta\r\nterminación 3333\r\ncompra de $99.99",
			wantMerchant: "MULTIMAX",
			wantAmount:   "99.99",
			wantCard:     "3333",
			wantBank:     "Global Bank",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Purchase(tc.body, defaultRule(t, tc.policy))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if p.Merchant != tc.wantMerchant {
				t.Errorf("merchant: got %q, want %q", p.Merchant, tc.wantMerchant)
			}
			if p.Amount.StringFixed(2) != tc.wantAmount {
				t.Errorf("amount: got %s, want %s", p.Amount.StringFixed(2), tc.wantAmount)
			}
			if p.CardLast4 != tc.wantCard {
				t.Errorf("card: got %q, want %q", p.CardLast4, tc.wantCard)
			}
			if p.Bank != tc.wantBank {
				t.Errorf("bank: got %q, want %q", p.Bank, tc.wantBank)
			}
		})
	}
}

func TestPurchase_NonPurchaseFixture(t *testing.T) {
	body, err := loadEmailFixture("globalbank_pago_01.txt")
	if err != nil {
		t.Fatalf("failed to load email fixture: %v", err)
	}

	if _, err := Purchase(body, defaultRule(t, "")); !errors.Is(err, ErrMissingMerchant) {
		t.Errorf("error: got %v, want %v", err, ErrMissingMerchant)
	}
}

func TestParseRules(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, rules []api.Rule)
	}{
		{
			name:  "defaults filled in",
			input: `[{"name":"gb","enabled":true,"senders":["a@b.c"],"subject":"CONFIRMACION"}]`,
			check: func(t *testing.T, rules []api.Rule) {
				r := rules[0]
				if r.CardPolicy != api.CardStrict {
					t.Errorf("card policy: got %q, want %q", r.CardPolicy, api.CardStrict)
				}
				if r.DefaultBank != DefaultBank {
					t.Errorf("default bank: got %q, want %q", r.DefaultBank, DefaultBank)
				}
				if len(r.Amount) != len(DefaultAmountRegex) {
					t.Errorf("amount patterns: got %d, want %d", len(r.Amount), len(DefaultAmountRegex))
				}
			},
		},
		{
			name:    "missing senders",
			input:   `[{"name":"gb","enabled":true}]`,
			wantErr: true,
		},
		{
			name:    "pattern without capture group",
			input:   `[{"name":"gb","senders":["a@b.c"],"cardRegex":"terminacion \\d{4}"}]`,
			wantErr: true,
		},
		{
			name:    "unknown card policy",
			input:   `[{"name":"gb","senders":["a@b.c"],"cardPolicy":"sometimes"}]`,
			wantErr: true,
		},
		{
			name:    "invalid JSON",
			input:   `{`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rules, err := ParseRules([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.check != nil {
				tc.check(t, rules)
			}
		})
	}
}

func loadEmailFixture(filename string) (string, error) {
	data, err := os.ReadFile(filepath.Join("..", "..", "tests", "data", "emails", filename))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
