package notify

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want Callback
	}{
		{"cfg:12:mult:2.0", Callback{Kind: KindConfigure, TransactionID: 12, Field: FieldMultiplier, Multiplier: decimal.RequireFromString("2.0")}},
		{"cfg:12:cat:Comida", Callback{Kind: KindConfigure, TransactionID: 12, Field: FieldCategory, Value: "Comida"}},
		{"edit:9", Callback{Kind: KindEdit, TransactionID: 9}},
		{"setmult:9:5.0", Callback{Kind: KindSetMultiplier, TransactionID: 9, Multiplier: decimal.RequireFromString("5")}},
		{"rec:abc:Y", Callback{Kind: KindAcknowledge, Token: "abc", Recognized: true}},
		{"rec:abc:N", Callback{Kind: KindAcknowledge, Token: "abc"}},
		{"card:delete:3", Callback{Kind: KindCard, Value: CardDelete, CardID: 3}},
		{"menu:redeem_points", Callback{Kind: KindMenu, Value: MenuRedeemPoints}},
	}

	for _, tc := range tests {
		t.Run(tc.data, func(t *testing.T) {
			got, err := ParseCallback(tc.data)
			if err != nil {
				t.Fatalf("ParseCallback: %v", err)
			}
			if got.Kind != tc.want.Kind || got.TransactionID != tc.want.TransactionID ||
				got.Token != tc.want.Token || got.Field != tc.want.Field ||
				got.Value != tc.want.Value || got.Recognized != tc.want.Recognized ||
				got.CardID != tc.want.CardID || !got.Multiplier.Equal(tc.want.Multiplier) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseCallback_Unknown(t *testing.T) {
	for _, data := range []string{
		"",
		"cfg|12|mult|2.0",
		"cfg:12:mult",
		"cfg:12:mult:abc",
		"cfg:12:mult:-1",
		"cfg:x:cat:Comida",
		"cfg:12:size:L",
		"edit:0",
		"setmult:9",
		"rec:abc:maybe",
		"rec::Y",
		"card:rename:3",
		"menu:unknown",
		"delete:1",
	} {
		if _, err := ParseCallback(data); !errors.Is(err, ErrUnknownCallback) {
			t.Errorf("%q: got %v, want %v", data, err, ErrUnknownCallback)
		}
	}
}

func TestKeyboards_PayloadsRoundTripAndFit(t *testing.T) {
	const txID = int64(9_223_372_036_854_775_807)
	token := uuid.NewString()

	keyboards := map[string]Keyboard{
		"multiplier":  MultiplierKeyboard(txID),
		"category":    CategoryKeyboard(txID),
		"edit":        EditMultiplierKeyboard(txID),
		"acknowledge": AcknowledgeKeyboard(token),
		"recent":      EditTransactionKeyboard(txID),
		"cards":       CardsKeyboard([]api.Card{{ID: txID, Last4: "1234"}}),
		"points":      PointsKeyboard(),
	}

	for name, kb := range keyboards {
		if err := kb.Validate(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		for _, row := range kb {
			for _, b := range row {
				if _, err := ParseCallback(b.Data); err != nil {
					t.Errorf("%s: %q does not parse: %v", name, b.Data, err)
				}
			}
		}
	}
}

func TestPendingKeyboard_MultiplierFirst(t *testing.T) {
	kb := PendingKeyboard(4, api.ActionAskBoth)
	cb, err := ParseCallback(kb[0][0].Data)
	if err != nil || cb.Field != FieldMultiplier {
		t.Errorf("ASK_BOTH should start with multiplier buttons, got %q", kb[0][0].Data)
	}

	kb = PendingKeyboard(4, api.ActionAskCat)
	cb, err = ParseCallback(kb[0][0].Data)
	if err != nil || cb.Field != FieldCategory {
		t.Errorf("ASK_CAT should offer categories, got %q", kb[0][0].Data)
	}

	if kb := PendingKeyboard(4, api.ActionAuto); kb != nil {
		t.Errorf("AUTO needs no configuration buttons, got %v", kb)
	}
}
