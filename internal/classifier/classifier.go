package classifier

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
)

// DefaultManualWindow is how long a manual status override is respected.
const DefaultManualWindow = 24 * time.Hour

const (
	entradaMaxMessages      = 3
	negotiationMinMessages  = 5
	qualificacaoMinMessages = 10
	followUpAfter           = 2 * time.Hour
	semRespostaAfter        = 24 * time.Hour
)

// Rule names which priority rule decided a status.
type Rule string

const (
	RuleActiveFollowUp Rule = "active_follow_up"
	RuleManualOverride Rule = "manual_override"
	RuleAuto           Rule = "auto"
)

// Matched against conversation.Fold(text).
var (
	lostRe        = regexp.MustCompile(`\b(?:nao\s+tenho\s+(?:mais\s+)?interesse|nao\s+estou\s+(?:mais\s+)?interessad[oa]|sem\s+interesse|desisti|vou\s+desistir|desistindo|quero\s+cancelar|pode\s+cancelar|cancela(?:r|do|mento)?|nao\s+quero\s+mais|not\s+interested|giving\s+up|give\s+up|cancel(?:led|ed)?)\b`)
	negotiationRe = regexp.MustCompile(`\b(?:desconto|valor(?:es)?|preco|precos|parcel\w*|mensalidade|pagamento|negociar|negociacao|proposta|orcamento|quanto\s+custa|condicoes|price|discount|installments?|payment\s+plan)\b`)
)

// Config tunes the classifier.
type Config struct {
	ManualWindow time.Duration
	Now          func() time.Time
}

// Input is everything the classifier looks at for one lead.
type Input struct {
	Session  conversation.Session
	Stored   *StoredStatus
	FollowUp *FollowUpRecord
}

// Decision is the classifier's output for one lead.
type Decision struct {
	LeadID   string `json:"lead_id"`
	Status   Status `json:"status"`
	Rule     Rule   `json:"rule"`
	Previous Status `json:"previous,omitempty"`
	Changed  bool   `json:"changed"`
}

// Classifier applies the status rules in priority order.
type Classifier struct {
	cfg    Config
	writer StatusWriter
	logger *slog.Logger
}

// New creates a Classifier. A nil writer discards updates.
func New(cfg Config, writer StatusWriter, logger *slog.Logger) *Classifier {
	if cfg.ManualWindow <= 0 {
		cfg.ManualWindow = DefaultManualWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if writer == nil {
		writer = NopWriter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{cfg: cfg, writer: writer, logger: logger}
}

// Classify decides the status for one lead. When automatic classification
// changes the stored status, the change is handed to the writer; a write
// failure is logged and does not affect the decision.
func (c *Classifier) Classify(ctx context.Context, in Input) Decision {
	now := c.cfg.Now()
	d := Decision{LeadID: in.Session.LeadID()}
	if in.Stored != nil {
		d.Previous = in.Stored.Status
	}

	if in.FollowUp != nil && in.FollowUp.IsActive {
		d.Status, d.Rule = EmFollowUp, RuleActiveFollowUp
		return d
	}

	if s := in.Stored; s != nil && s.IsManualOverride && s.ManualOverrideAt != nil &&
		now.Sub(*s.ManualOverrideAt) < c.cfg.ManualWindow {
		d.Status, d.Rule = s.Status, RuleManualOverride
		return d
	}

	d.Status, d.Rule = AutoClassify(in.Session, now), RuleAuto
	if d.Status == d.Previous {
		return d
	}

	d.Changed = true
	update := StatusUpdate{
		LeadID:                   d.LeadID,
		Status:                   d.Status,
		AutoClassified:           true,
		LastAutoClassificationAt: now,
	}
	if err := c.writer.WriteStatus(ctx, update); err != nil {
		c.logger.Warn("status write failed", "lead", d.LeadID, "status", d.Status, "error", err)
	}
	return d
}

// AutoClassify applies the text heuristics. The first matching rule wins.
func AutoClassify(s conversation.Session, now time.Time) Status {
	count := len(s.Messages)

	if s.HasSuccess {
		return Agendado
	}
	if HasLostPhrase(s) {
		return Perdido
	}
	if HasNegotiationPhrase(s) && count > negotiationMinMessages {
		return EmNegociacao
	}
	if count <= entradaMaxMessages {
		return Entrada
	}

	idle := now.Sub(s.LastActivityAt)
	if role, ok := s.LastRole(); ok && role == conversation.RoleAgent {
		if idle > semRespostaAfter {
			return SemResposta
		}
		if idle > followUpAfter {
			return FollowUp
		}
	}
	if count > qualificacaoMinMessages {
		return Qualificacao
	}
	return Atendimento
}

// HasLostPhrase reports a lead message saying they are not interested or
// want to cancel.
func HasLostPhrase(s conversation.Session) bool {
	for _, m := range s.Messages {
		if m.Role == conversation.RoleLead && lostRe.MatchString(conversation.Fold(m.Content)) {
			return true
		}
	}
	return false
}

// HasNegotiationPhrase reports price or payment talk from either side.
func HasNegotiationPhrase(s conversation.Session) bool {
	for _, m := range s.Messages {
		if negotiationRe.MatchString(conversation.Fold(m.Content)) {
			return true
		}
	}
	return false
}
