package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

// Categories offered after a purchase, with their button labels.
var Categories = []struct {
	Label string
	Name  string
}{
	{"Comida", "Comida"},
	{"Transporte", "Transporte"},
	{"Super", "Supermercado"},
	{"Servicios", "Servicios"},
	{"General", "General"},
}

// MultiplierKeyboard offers 1x, 2x and 3x for a freshly recorded transaction.
func MultiplierKeyboard(txID int64) Keyboard {
	row := make([]Button, 0, 3)
	for i := int64(1); i <= 3; i++ {
		mult := decimal.NewFromInt(i)
		row = append(row, Button{
			Text: fmt.Sprintf("%dx", i),
			Data: ConfigureMultiplierData(txID, mult),
		})
	}
	return Keyboard{row}
}

// CategoryKeyboard offers the categories, three per row.
func CategoryKeyboard(txID int64) Keyboard {
	var kb Keyboard
	var row []Button
	for _, c := range Categories {
		row = append(row, Button{Text: c.Label, Data: ConfigureCategoryData(txID, c.Name)})
		if len(row) == 3 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return kb
}

// EditMultiplierKeyboard offers x1 to x5 when editing a past transaction.
func EditMultiplierKeyboard(txID int64) Keyboard {
	button := func(i int64) Button {
		return Button{
			Text: fmt.Sprintf("x%d", i),
			Data: SetMultiplierData(txID, decimal.NewFromInt(i)),
		}
	}
	return Keyboard{
		{button(1), button(2), button(3)},
		{button(4), button(5)},
	}
}

// AcknowledgeKeyboard asks whether the user recognises a purchase.
func AcknowledgeKeyboard(token string) Keyboard {
	return Keyboard{{
		{Text: "✅ Fui yo", Data: AcknowledgeData(token, true)},
		{Text: "⚠️ No la reconozco", Data: AcknowledgeData(token, false)},
	}}
}

// PendingKeyboard returns the buttons for the step a transaction still needs.
// The multiplier is always asked before the category.
func PendingKeyboard(txID int64, step api.Action) Keyboard {
	switch {
	case step.NeedsMultiplier():
		return MultiplierKeyboard(txID)
	case step.NeedsCategory():
		return CategoryKeyboard(txID)
	}
	return nil
}

// EditTransactionKeyboard is attached to every /recent entry.
func EditTransactionKeyboard(txID int64) Keyboard {
	return Keyboard{{{Text: "✏️ Editar Puntos", Data: EditData(txID)}}}
}

// CardsKeyboard lists edit and delete buttons per card plus an add button.
func CardsKeyboard(cards []api.Card) Keyboard {
	kb := make(Keyboard, 0, len(cards)+1)
	for _, c := range cards {
		kb = append(kb, []Button{
			{Text: "✏️ ••••" + c.Last4, Data: CardData(CardEdit, c.ID)},
			{Text: "🗑 ••••" + c.Last4, Data: CardData(CardDelete, c.ID)},
		})
	}
	return append(kb, []Button{{Text: "➕ Agregar tarjeta", Data: MenuData(MenuAddCard)}})
}

// PointsKeyboard opens the add and redeem flows.
func PointsKeyboard() Keyboard {
	return Keyboard{{
		{Text: "➕ Agregar puntos", Data: MenuData(MenuAddPoints)},
		{Text: "➖ Canjear puntos", Data: MenuData(MenuRedeemPoints)},
	}}
}
