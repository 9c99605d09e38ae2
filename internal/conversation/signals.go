package conversation

import (
	"regexp"
	"strings"
)

// Phrase patterns are matched against Fold(text): lowercase, no accents.
var (
	errorPhraseRe = regexp.MustCompile(`\b(?:problemas?\s+tecnicos?|dificuldades?\s+tecnicas?|falhas?\s+tecnicas?|instabilidade|fora\s+do\s+ar|erro\s+(?:no\s+sistema|interno|inesperado)|sistema\s+(?:indisponivel|fora)|estamos\s+com\s+(?:um\s+)?problema|technical\s+(?:issue|problem|difficult)|outage|service\s+unavailable|experiencing\s+(?:an?\s+)?(?:issue|problem))`)

	schedulingRe = regexp.MustCompile(`\b(?:agendad[oa]s?|confirmad[oa]s?|marcad[oa]s?|reservad[oa]s?|booked|scheduled|confirmed)\b`)
	scheduleCtx  = regexp.MustCompile(`\b(?:visita|aula|horario|agenda|agendamento|consulta|avaliacao|dia|amanha|hoje|segunda|terca|quarta|quinta|sexta|sabado|domingo|\d{1,2}h\d{0,2}|\d{1,2}:\d{2}|appointment|visit|class|tomorrow|today)\b`)
	completionRe = regexp.MustCompile(`\b(?:matricula\s+(?:realizada|efetivada|confirmada|concluida|feita)|matriculad[oa]|venda\s+(?:realizada|concluida|fechada)|pagamento\s+(?:confirmado|aprovado|realizado)|contrato\s+assinado|enrollment\s+(?:complete|completed|confirmed)|payment\s+(?:confirmed|received))\b`)
)

var errorMarkers = []string{"error", "erro", "failure", "falha"}

// IsErrorSignal reports an explicit error origin marker or an outage phrase.
func IsErrorSignal(originMarker, text string) bool {
	marker := strings.ToLower(originMarker)
	for _, m := range errorMarkers {
		if strings.Contains(marker, m) {
			return true
		}
	}
	return errorPhraseRe.MatchString(Fold(text))
}

// IsSuccessSignal reports a booking confirmation in scheduling context or an
// explicit sale or enrollment completion.
func IsSuccessSignal(text string) bool {
	folded := Fold(text)
	if completionRe.MatchString(folded) {
		return true
	}
	return schedulingRe.MatchString(folded) && scheduleCtx.MatchString(folded)
}
