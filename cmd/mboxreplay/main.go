// Command mboxreplay runs the purchase extractor over an mbox file and
// prints the outcome for every message. With -dump it also writes the bodies
// of matching messages to files, to collect samples for unit tests.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ArionMiles/pointsbot/pkg/extract"
	"github.com/ArionMiles/pointsbot/pkg/logging"
	mboxreader "github.com/ArionMiles/pointsbot/pkg/reader/mbox"
)

const defaultRules = "cmd/pointsbot/config/rules.json"

type summary struct {
	Messages  int `json:"messages"`
	Purchases int `json:"purchases"`
	Unmatched int `json:"unmatched"`
	Failed    int `json:"failed"`
	Dumped    int `json:"dumped"`
}

func main() {
	rulesPath := flag.String("rules", defaultRules, "rules file")
	dumpDir := flag.String("dump", "", "directory to write matching bodies to")
	asJSON := flag.Bool("json", false, "print one JSON object per message")
	csvPath := flag.String("csv", "", "CSV file to append extracted purchases to")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: mboxreplay [flags] <file.mbox>")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, closer := logging.Setup(logging.Config{Level: slog.LevelInfo, Output: os.Stderr})
	defer closer.Close()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*rulesPath)
	if err != nil {
		logger.Error("failed to read rules file", "error", err)
		os.Exit(1)
	}
	rules, err := extract.ParseRules(data)
	if err != nil {
		logger.Error("failed to parse rules", "error", err)
		os.Exit(1)
	}

	reader, err := mboxreader.New(mboxreader.Config{Path: flag.Arg(0), Rules: rules}, logger)
	if err != nil {
		logger.Error("failed to create reader", "error", err)
		os.Exit(1)
	}

	if *dumpDir != "" {
		if err := os.MkdirAll(*dumpDir, 0o755); err != nil {
			logger.Error("failed to create dump directory", "error", err)
			os.Exit(1)
		}
	}

	var rows *csvWriter
	if *csvPath != "" {
		rows, err = newCSVWriter(*csvPath)
		if err != nil {
			logger.Error("failed to open csv output", "error", err)
			os.Exit(1)
		}
	}

	var sum summary
	enc := json.NewEncoder(os.Stdout)
	err = reader.Replay(context.Background(), func(res mboxreader.Result) error {
		sum.Messages++
		switch {
		case res.Err == nil:
			sum.Purchases++
		case errors.Is(res.Err, mboxreader.ErrNoMatchingRule):
			sum.Unmatched++
		default:
			sum.Failed++
		}

		if rows != nil {
			if err := rows.Write(res); err != nil {
				return err
			}
		}

		if *dumpDir != "" && res.Body != "" {
			if err := dump(*dumpDir, res); err != nil {
				logger.Warn("failed to dump message", "index", res.Index, "error", err)
			} else {
				sum.Dumped++
			}
		}

		if *asJSON {
			return enc.Encode(newLine(res))
		}
		printResult(res)
		return nil
	})
	if rows != nil {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		logger.Error("replay failed", "error", err)
		os.Exit(1)
	}

	logger.Info("replay complete",
		"messages", sum.Messages,
		"purchases", sum.Purchases,
		"unmatched", sum.Unmatched,
		"failed", sum.Failed,
		"dumped", sum.Dumped,
	)
}

type line struct {
	Index     int    `json:"index"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Rule      string `json:"rule,omitempty"`
	Merchant  string `json:"merchant,omitempty"`
	Amount    string `json:"amount,omitempty"`
	CardLast4 string `json:"card_last4,omitempty"`
	Bank      string `json:"bank,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newLine(res mboxreader.Result) line {
	l := line{Index: res.Index, From: res.From, Subject: res.Subject, Rule: res.Rule}
	if res.Err != nil {
		l.Error = res.Err.Error()
	}
	if p := res.Purchase; p != nil {
		l.Merchant = p.Merchant
		l.Amount = p.Amount.StringFixed(2)
		l.CardLast4 = p.CardLast4
		l.Bank = p.Bank
	}
	return l
}

func printResult(res mboxreader.Result) {
	if res.Err != nil {
		fmt.Printf("#%d %s %q: %v\n", res.Index, res.From, res.Subject, res.Err)
		return
	}
	p := res.Purchase
	fmt.Printf("#%d %s %q: %s $%s ••••%s (%s) [%s]\n",
		res.Index, res.From, res.Subject, p.Merchant, p.Amount.StringFixed(2), p.CardLast4, p.Bank, res.Rule)
}

func dump(dir string, res mboxreader.Result) error {
	name := sanitizeFilename(fmt.Sprintf("%s_%s_%d.txt", res.Rule, res.Date.Format("2006-01-02_150405"), res.Index))
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(res.Body), 0o644)
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")

	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return strings.ToLower(name)
}
