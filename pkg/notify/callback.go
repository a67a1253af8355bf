package notify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownCallback is returned for payloads that match no known button.
var ErrUnknownCallback = errors.New("unknown callback")

// Kind is the first field of a callback payload.
type Kind string

const (
	KindConfigure     Kind = "cfg"
	KindEdit          Kind = "edit"
	KindSetMultiplier Kind = "setmult"
	KindAcknowledge   Kind = "rec"
	KindCard          Kind = "card"
	KindMenu          Kind = "menu"
)

// Configure fields.
const (
	FieldMultiplier = "mult"
	FieldCategory   = "cat"
)

// Card button actions.
const (
	CardEdit   = "edit"
	CardDelete = "delete"
)

// Menu keys.
const (
	MenuAddPoints    = "add_points"
	MenuRedeemPoints = "redeem_points"
	MenuAddCard      = "add_card"
)

// Callback is a decoded button payload. Which fields are set depends on Kind:
//
//	cfg:<tx_id>:mult:<value>   TransactionID, Field, Multiplier
//	cfg:<tx_id>:cat:<name>     TransactionID, Field, Value
//	edit:<tx_id>               TransactionID
//	setmult:<tx_id>:<value>    TransactionID, Multiplier
//	rec:<token>:<Y|N>          Token, Recognized
//	card:<action>:<id>         Value, CardID
//	menu:<key>                 Value
type Callback struct {
	Kind          Kind
	TransactionID int64
	Token         string
	Field         string
	Value         string
	Multiplier    decimal.Decimal
	Recognized    bool
	CardID        int64
}

// ParseCallback splits a payload positionally on ':'.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, ":")
	cb := Callback{Kind: Kind(parts[0])}

	unknown := fmt.Errorf("%w: %q", ErrUnknownCallback, data)

	switch cb.Kind {
	case KindConfigure:
		if len(parts) != 4 {
			return Callback{}, unknown
		}
		id, err := parseID(parts[1])
		if err != nil {
			return Callback{}, unknown
		}
		cb.TransactionID = id
		cb.Field = parts[2]
		switch cb.Field {
		case FieldMultiplier:
			mult, err := parseMultiplier(parts[3])
			if err != nil {
				return Callback{}, unknown
			}
			cb.Multiplier = mult
		case FieldCategory:
			if parts[3] == "" {
				return Callback{}, unknown
			}
			cb.Value = parts[3]
		default:
			return Callback{}, unknown
		}

	case KindEdit:
		if len(parts) != 2 {
			return Callback{}, unknown
		}
		id, err := parseID(parts[1])
		if err != nil {
			return Callback{}, unknown
		}
		cb.TransactionID = id

	case KindSetMultiplier:
		if len(parts) != 3 {
			return Callback{}, unknown
		}
		id, err := parseID(parts[1])
		if err != nil {
			return Callback{}, unknown
		}
		mult, err := parseMultiplier(parts[2])
		if err != nil {
			return Callback{}, unknown
		}
		cb.TransactionID = id
		cb.Multiplier = mult

	case KindAcknowledge:
		if len(parts) != 3 || parts[1] == "" {
			return Callback{}, unknown
		}
		cb.Token = parts[1]
		switch parts[2] {
		case "Y":
			cb.Recognized = true
		case "N":
		default:
			return Callback{}, unknown
		}

	case KindCard:
		if len(parts) != 3 {
			return Callback{}, unknown
		}
		if parts[1] != CardEdit && parts[1] != CardDelete {
			return Callback{}, unknown
		}
		id, err := parseID(parts[2])
		if err != nil {
			return Callback{}, unknown
		}
		cb.Value = parts[1]
		cb.CardID = id

	case KindMenu:
		if len(parts) != 2 {
			return Callback{}, unknown
		}
		switch parts[1] {
		case MenuAddPoints, MenuRedeemPoints, MenuAddCard:
			cb.Value = parts[1]
		default:
			return Callback{}, unknown
		}

	default:
		return Callback{}, unknown
	}

	return cb, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseMultiplier(s string) (decimal.Decimal, error) {
	mult, err := decimal.NewFromString(s)
	if err != nil || !mult.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("invalid multiplier %q", s)
	}
	return mult, nil
}

// ConfigureMultiplierData builds cfg:<tx_id>:mult:<value>.
func ConfigureMultiplierData(txID int64, mult decimal.Decimal) string {
	return fmt.Sprintf("%s:%d:%s:%s", KindConfigure, txID, FieldMultiplier, mult.StringFixed(1))
}

// ConfigureCategoryData builds cfg:<tx_id>:cat:<name>.
func ConfigureCategoryData(txID int64, category string) string {
	return fmt.Sprintf("%s:%d:%s:%s", KindConfigure, txID, FieldCategory, category)
}

// EditData builds edit:<tx_id>.
func EditData(txID int64) string {
	return fmt.Sprintf("%s:%d", KindEdit, txID)
}

// SetMultiplierData builds setmult:<tx_id>:<value>.
func SetMultiplierData(txID int64, mult decimal.Decimal) string {
	return fmt.Sprintf("%s:%d:%s", KindSetMultiplier, txID, mult.StringFixed(1))
}

// AcknowledgeData builds rec:<token>:<Y|N>.
func AcknowledgeData(token string, recognized bool) string {
	answer := "N"
	if recognized {
		answer = "Y"
	}
	return fmt.Sprintf("%s:%s:%s", KindAcknowledge, token, answer)
}

// CardData builds card:<action>:<id>.
func CardData(action string, cardID int64) string {
	return fmt.Sprintf("%s:%s:%d", KindCard, action, cardID)
}

// MenuData builds menu:<key>.
func MenuData(key string) string {
	return fmt.Sprintf("%s:%s", KindMenu, key)
}
