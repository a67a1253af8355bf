package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/ledger"
)

const (
	msgWelcome = "¡Hola %s! Soy tu Asistente de Puntos.\n\n" +
		"Comandos disponibles:\n" +
		"🔹 /registro - Vincula tu correo (Gmail) para leer compras.\n" +
		"🔹 /recientes - Ver últimas 5 compras (y editarlas).\n" +
		"🔹 /tarjetas - Administrar tus tarjetas.\n" +
		"🔹 /puntos - Ver y ajustar tus puntos.\n" +
		"🔹 /resumen - Ver estadísticas del mes actual.\n" +
		"🔹 /status - Estado del bot.\n" +
		"🔹 /cancel - Cancelar la operación en curso.\n\n" +
		"Yo vigilaré tus correos y te avisaré de cada compra nueva."

	msgAskEmail     = "📧 Por favor, escribe tu dirección de correo (Gmail):"
	msgInvalidEmail = "Correo inválido. Intenta de nuevo:"
	msgAskPassword  = "✅ Correo recibido.\n\n" +
		"🔐 Paso Final: Contraseña de Aplicación\n\n" +
		"Google no permite usar tu contraseña normal por seguridad. " +
		"Necesitas generar una contraseña especial de 16 letras para este Bot.\n\n" +
		"1. Asegúrate de tener la Verificación en 2 Pasos activada.\n" +
		"2. Entra a https://myaccount.google.com/apppasswords\n" +
		"3. Escribe el nombre BotPuntos y dale a Crear.\n" +
		"4. Te saldrá un código de 16 letras (ej: abcd efgh ijkl mnop).\n\n" +
		"Copia ese código y pégalo aquí abajo:"
	msgSavingCredentials = "💾 Guardando credenciales..."
	msgRegistered        = "¡Registro Exitoso! Ya puedo leer tus correos."
	msgRegisterFailed    = "❌ Error al guardar en BD. Intenta /registro de nuevo."

	msgNoRecent     = "No tienes transacciones recientes."
	msgRecentHeader = "Últimas Transacciones:"
	msgNoCards      = "No tienes tarjetas registradas aún."
	msgNoSummary    = "📊 Aún no hay movimientos este mes."

	msgCancelled      = "🚫 Cancelado."
	msgUnknownCommand = "Comando no reconocido. Usa /start para ver los comandos."
	msgNoConversation = "No entendí. Usa /start para ver los comandos."
	msgGenericError   = "❌ Ocurrió un error. Intenta de nuevo más tarde."

	msgAskCard          = "💳 Escribe los últimos 4 dígitos de la tarjeta:"
	msgInvalidCard      = "Debes escribir exactamente 4 dígitos. Intenta de nuevo:"
	msgAskPointsAdd     = "¿Cuántos puntos quieres agregar?"
	msgAskPointsRedeem  = "¿Cuántos puntos quieres canjear?"
	msgInvalidPoints    = "Escribe un número entero mayor que cero:"
	msgCardNotFound     = "No encontré esa tarjeta. Revisa /tarjetas."
	msgInsufficient     = "❌ Saldo insuficiente: la tarjeta ••••%s tiene %d puntos."
	msgPointsAdded      = "✅ Se agregaron %d puntos. Nuevo saldo de ••••%s: %d puntos."
	msgPointsRedeemed   = "✅ Se canjearon %d puntos. Nuevo saldo de ••••%s: %d puntos."
	msgAskNewCard       = "💳 Escribe los últimos 4 dígitos de la nueva tarjeta:"
	msgConfirmCard      = "¿Confirmas la tarjeta ••••%s? Responde si, no o cancelar."
	msgConfirmCardRetry = "Responde si, no o cancelar."
	msgCardRetry        = "De acuerdo, escribe de nuevo los 4 dígitos:"
	msgCardAdded        = "✅ Tarjeta ••••%s registrada."
	msgAskEditCard      = "✏️ Escribe los nuevos 4 dígitos de la tarjeta ••••%s:"
	msgCardUpdated      = "✅ Tarjeta actualizada: ahora es ••••%s."
	msgAskDeleteDigits  = "🗑 Para eliminar la tarjeta %s, escribe sus últimos 4 dígitos:"
	msgDigitsMismatch   = "Los dígitos no coinciden. Intenta de nuevo o usa /cancel."
	msgCardDeleted      = "🗑 Tarjeta ••••%s eliminada."

	msgSelectMultiplier   = "Selecciona el nuevo multiplicador:"
	msgMultiplierUpdated  = "✅ Actualizado: Ahora es x%s"
	msgMultiplierSet      = "✅ Multiplicador x%s guardado."
	msgSelectCategory     = "Selecciona la categoría:"
	msgCategorySet        = "Categoría asignada: %s"
	msgUpdateFailed       = "❌ Error al actualizar."
	msgMultiplierFirst    = "Primero elige el multiplicador."
	msgAlreadyConfigured  = "Esta compra ya fue configurada."
	msgUnknownAction      = "Acción no reconocida."
	msgRecognized         = "✅ Compra confirmada."
	msgNotRecognized      = "⚠️ Marcada como no reconocida. Revisa con tu banco."
	msgAcknowledgeFailed  = "❌ Error al guardar tu respuesta."
	msgStatusRegistered   = "📬 Correo vinculado: %s"
	msgStatusNoPoll       = "🕒 Aún no se ha revisado el correo."
	msgStatusLastPoll     = "🕒 Última revisión (%s): %s, %d cuentas, %d compras, %d errores."
	msgStatusPending      = "⏳ Botones pendientes: %d"
	msgStatusLedger       = "📒 Registro local: %d compras en %d comercios, $%s, %s puntos."
	msgStatusNoLedger     = "📒 Registro local desactivado."
	msgStatusTopMerchants = "🏪 Comercios principales: %s"
	msgStatusConversation = "💬 Operación en curso: %s"
)

func yesNo(b bool) string {
	if b {
		return "sí"
	}
	return "no"
}

func formatRecent(tx api.RecentTransaction) string {
	return fmt.Sprintf("📅 %s\n🏪 %s\n💵 $%s  ➡️  ⭐ %s pts (x%s)",
		tx.At.Format("02/01/2006 15:04"),
		tx.Merchant,
		tx.Amount.StringFixed(2),
		tx.Points.String(),
		tx.Multiplier.String(),
	)
}

func formatCards(cards []api.Card) string {
	var b strings.Builder
	b.WriteString("💳 Mis Tarjetas Registradas\n")
	for _, c := range cards {
		fmt.Fprintf(&b, "\n%s ••••%s", c.Bank, c.Last4)
		if c.Alias != "" {
			fmt.Fprintf(&b, "\n     %s", c.Alias)
		}
	}
	return b.String()
}

func formatPoints(cards []api.Card) string {
	var b strings.Builder
	b.WriteString("⭐ Puntos por tarjeta\n")
	var total int64
	for _, c := range cards {
		fmt.Fprintf(&b, "\n%s ••••%s: %d pts", c.Bank, c.Last4, c.Points)
		total += c.Points
	}
	fmt.Fprintf(&b, "\n\nTotal: %d pts", total)
	return b.String()
}

func formatSummary(s api.MonthlySummary) string {
	top := s.TopCategory
	if top == "" {
		top = "-"
	}
	return fmt.Sprintf("📊 Resumen de %s\n"+
		"──────────────────\n"+
		"   Gastado:     $%s\n"+
		"⭐ Puntos:      %s\n"+
		"   Movimientos: %d\n"+
		"   Categoría con más gastos:   %s",
		s.MonthName,
		s.TotalUSD.StringFixed(2),
		s.TotalPoints.String(),
		s.Count,
		top,
	)
}

func formatPendingPurchase(p *api.PendingAction) string {
	text := fmt.Sprintf("💳 Compra en %s por $%s", p.Company, p.Amount.StringFixed(2))
	if p.Card != "" {
		text += " con tarjeta ••••" + p.Card
	}
	return text
}

func formatPollStatus(s api.PollStatus) string {
	if s.LastPoll.IsZero() {
		return msgStatusNoPoll
	}
	return fmt.Sprintf(msgStatusLastPoll,
		s.Source,
		s.LastPoll.Format(time.DateTime),
		s.Accounts,
		s.Purchases,
		s.Failures,
	)
}

func formatLedger(t ledger.Totals) string {
	return fmt.Sprintf(msgStatusLedger, t.Entries, t.Merchants, t.TotalUSD.StringFixed(2), t.Points.String())
}

// topMerchants is how many merchants /status lists.
const topMerchants = 3

func formatTopMerchants(merchants []string) string {
	if len(merchants) > topMerchants {
		merchants = merchants[:topMerchants]
	}
	return fmt.Sprintf(msgStatusTopMerchants, strings.Join(merchants, ", "))
}

func formatMultiplier(m decimal.Decimal) string {
	return m.StringFixed(1)
}
