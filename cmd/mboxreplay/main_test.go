package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
	mboxreader "github.com/ArionMiles/pointsbot/pkg/reader/mbox"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Global Bank purchase_2025-03-12_140500_0.txt", "global_bank_purchase_2025-03-12_140500_0.txt"},
		{"a/b\\c:d", "a_b_c_d"},
		{"__x__", "x"},
	}
	for _, tc := range tests {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewLine(t *testing.T) {
	ok := newLine(mboxreader.Result{
		Index: 1,
		Rule:  "gb",
		Purchase: &api.Purchase{
			Merchant:  "ACME",
			Amount:    decimal.RequireFromString("45"),
			CardLast4: "1234",
			Bank:      "Global Bank",
		},
	})
	if ok.Amount != "45.00" || ok.Error != "" || ok.Merchant != "ACME" {
		t.Errorf("purchase line: %+v", ok)
	}

	failed := newLine(mboxreader.Result{Index: 2, Err: errors.New("boom")})
	if failed.Error != "boom" || failed.Amount != "" {
		t.Errorf("failure line: %+v", failed)
	}
}

func TestCSVWriter_AppendsWithSingleHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	res := mboxreader.Result{
		Rule: "gb",
		Purchase: &api.Purchase{
			Merchant:   "ACME",
			Amount:     decimal.RequireFromString("45"),
			CardLast4:  "1234",
			Bank:       "Global Bank",
			ReceivedAt: time.Date(2025, 3, 12, 14, 5, 0, 0, time.UTC),
		},
	}

	for range 2 {
		w, err := newCSVWriter(path)
		if err != nil {
			t.Fatalf("newCSVWriter: %v", err)
		}
		if err := w.Write(res); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Write(mboxreader.Result{Err: errors.New("skipped")}); err != nil {
			t.Fatalf("Write failure: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	want := "Timestamp,Merchant,Amount,Card,Bank,Rule\n" +
		"2025-03-12T14:05:00Z,ACME,45.00,1234,Global Bank,gb\n" +
		"2025-03-12T14:05:00Z,ACME,45.00,1234,Global Bank,gb\n"
	if string(data) != want {
		t.Errorf("csv:\n%s\nwant:\n%s", data, want)
	}
}
