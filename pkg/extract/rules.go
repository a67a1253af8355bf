package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

// Default patterns, used when a rule leaves the corresponding field empty.
const (
	DefaultMerchantRegex = `(?i)\ben\s+(.+?)\s+(?:PA\s+)?con\s+tarjeta`
	DefaultCardRegex     = `(?i)terminaci[óo]n\s+(\d{4})`
	DefaultBank          = "Global Bank"
)

// DefaultAmountRegex is tried in order: the "compra de" form first.
var DefaultAmountRegex = []string{
	`(?i)compra\s+de\s+\$\s?(\d[\d,]*(?:\.\d+)?)`,
	`\$\s?(\d[\d,]*(?:\.\d+)?)`,
}

// DefaultBanks is the bank whitelist.
var DefaultBanks = []string{"Global Bank", "Bac Credomatic", "Banco General"}

// RuleConfig is the JSON form of a rule.
type RuleConfig struct {
	Name          string   `json:"name"`
	Enabled       bool     `json:"enabled"`
	Senders       []string `json:"senders"`
	Subject       string   `json:"subject"`
	MerchantRegex string   `json:"merchantRegex,omitempty"`
	AmountRegex   []string `json:"amountRegex,omitempty"`
	CardRegex     string   `json:"cardRegex,omitempty"`
	Banks         []string `json:"banks,omitempty"`
	DefaultBank   string   `json:"defaultBank,omitempty"`
	CardPolicy    string   `json:"cardPolicy,omitempty"`
}

// ParseRules parses a JSON array of rule configurations.
func ParseRules(data []byte) ([]api.Rule, error) {
	var configs []RuleConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	rules := make([]api.Rule, 0, len(configs))
	for i, cfg := range configs {
		rule, err := ParseRule(cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing rule %d (%s): %w", i, cfg.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ParseRule compiles a rule configuration, filling in defaults.
func ParseRule(cfg RuleConfig) (api.Rule, error) {
	if len(cfg.Senders) == 0 {
		return api.Rule{}, fmt.Errorf("senders: at least one sender is required")
	}

	merchantStr := cfg.MerchantRegex
	if merchantStr == "" {
		merchantStr = DefaultMerchantRegex
	}
	merchantRegex, err := compileCapturing(merchantStr)
	if err != nil {
		return api.Rule{}, fmt.Errorf("compiling merchantRegex: %w", err)
	}

	amountStrs := cfg.AmountRegex
	if len(amountStrs) == 0 {
		amountStrs = DefaultAmountRegex
	}
	amountRegex := make([]*regexp.Regexp, 0, len(amountStrs))
	for _, s := range amountStrs {
		re, err := compileCapturing(s)
		if err != nil {
			return api.Rule{}, fmt.Errorf("compiling amountRegex: %w", err)
		}
		amountRegex = append(amountRegex, re)
	}

	cardStr := cfg.CardRegex
	if cardStr == "" {
		cardStr = DefaultCardRegex
	}
	cardRegex, err := compileCapturing(cardStr)
	if err != nil {
		return api.Rule{}, fmt.Errorf("compiling cardRegex: %w", err)
	}

	banks := cfg.Banks
	if len(banks) == 0 {
		banks = DefaultBanks
	}
	quoted := make([]string, 0, len(banks))
	for _, b := range banks {
		quoted = append(quoted, regexp.QuoteMeta(b))
	}
	bankRegex := regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)

	defaultBank := cfg.DefaultBank
	if defaultBank == "" {
		defaultBank = DefaultBank
	}

	var policy api.CardPolicy
	switch api.CardPolicy(strings.ToLower(cfg.CardPolicy)) {
	case "", api.CardStrict:
		policy = api.CardStrict
	case api.CardLenient:
		policy = api.CardLenient
	default:
		return api.Rule{}, fmt.Errorf("cardPolicy: unknown value %q", cfg.CardPolicy)
	}

	return api.Rule{
		Name:        cfg.Name,
		Enabled:     cfg.Enabled,
		Senders:     cfg.Senders,
		Subject:     cfg.Subject,
		Merchant:    merchantRegex,
		Amount:      amountRegex,
		Card:        cardRegex,
		Bank:        bankRegex,
		Banks:       banks,
		DefaultBank: defaultBank,
		CardPolicy:  policy,
	}, nil
}

func compileCapturing(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("%q has no capture group", expr)
	}
	return re, nil
}
