// Package extract turns purchase-confirmation email bodies into purchases
// using the regex patterns of a rule.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

var (
	ErrMissingMerchant = errors.New("missing merchant")
	ErrMissingAmount   = errors.New("missing amount")
	ErrMissingCard     = errors.New("missing card")
)

// ExtractionError reports which field a rule failed to extract.
type ExtractionError struct {
	Rule string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.Rule, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Purchase extracts merchant, amount, card and bank from an email body.
// It returns a nil purchase whenever a required field is missing.
func Purchase(body string, rule api.Rule) (*api.Purchase, error) {
	text := lineBreaks.Replace(body)

	merchant, ok := findMerchant(text, rule)
	if !ok {
		return nil, &ExtractionError{Rule: rule.Name, Err: ErrMissingMerchant}
	}

	amount, ok := Amount(text, rule)
	if !ok {
		return nil, &ExtractionError{Rule: rule.Name, Err: ErrMissingAmount}
	}

	card, ok := findCard(text, rule)
	if !ok {
		return nil, &ExtractionError{Rule: rule.Name, Err: ErrMissingCard}
	}

	return &api.Purchase{
		Merchant:  merchant,
		Amount:    amount,
		CardLast4: card,
		Bank:      findBank(text, rule),
		Rule:      rule.Name,
	}, nil
}

func findMerchant(text string, rule api.Rule) (string, bool) {
	if rule.Merchant == nil {
		return "", false
	}
	m := rule.Merchant.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}

	name := strings.Join(strings.Fields(m[1]), " ")
	name = strings.TrimSpace(strings.TrimSuffix(name, " PA"))
	if name == "" {
		return "", false
	}
	return name, true
}

// Amount returns the first amount matched by the rule's patterns, rounded
// half-up to two decimal places.
func Amount(text string, rule api.Rule) (decimal.Decimal, bool) {
	for _, re := range rule.Amount {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		return amount.Round(2), true
	}
	return decimal.Decimal{}, false
}

func findCard(text string, rule api.Rule) (string, bool) {
	if rule.Card != nil {
		if m := rule.Card.FindStringSubmatch(text); len(m) > 1 {
			return m[1], true
		}
	}
	if rule.CardPolicy == api.CardLenient {
		return api.DefaultCardLast4, true
	}
	return "", false
}

func findBank(text string, rule api.Rule) string {
	if rule.Bank != nil {
		if m := rule.Bank.FindStringSubmatch(text); len(m) > 1 {
			for _, known := range rule.Banks {
				if strings.EqualFold(known, m[1]) {
					return known
				}
			}
			return m[1]
		}
	}
	return rule.DefaultBank
}
