package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	mboxreader "github.com/ArionMiles/pointsbot/pkg/reader/mbox"
)

var csvHeaders = []string{"Timestamp", "Merchant", "Amount", "Card", "Bank", "Rule"}

// csvWriter appends extracted purchases to a CSV file.
type csvWriter struct {
	file   *os.File
	writer *csv.Writer
}

func newCSVWriter(path string) (*csvWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	w := &csvWriter{file: file, writer: csv.NewWriter(file)}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if stat.Size() == 0 {
		if err := w.writer.Write(csvHeaders); err != nil {
			file.Close()
			return nil, fmt.Errorf("writing headers: %w", err)
		}
	}
	return w, nil
}

// Write adds a row for a successful result and ignores the rest.
func (w *csvWriter) Write(res mboxreader.Result) error {
	p := res.Purchase
	if p == nil {
		return nil
	}
	record := []string{
		p.ReceivedAt.Format(time.RFC3339),
		p.Merchant,
		p.Amount.StringFixed(2),
		p.CardLast4,
		p.Bank,
		res.Rule,
	}
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("writing csv record: %w", err)
	}
	return nil
}

func (w *csvWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return fmt.Errorf("flushing csv: %w", err)
	}
	return w.file.Close()
}
