// Package tenant resolves a tenant identifier into the concrete table names
// and phone rules used by every read and write for that tenant.
package tenant

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
)

// ErrInvalidTenant is returned for identifiers that cannot be used as a
// table-name prefix.
var ErrInvalidTenant = errors.New("invalid tenant")

var validID = regexp.MustCompile(`^[a-z0-9_]+$`)

// Tables holds the per-tenant table suffixes.
type Tables struct {
	ChatSuffix     string
	StatusSuffix   string
	FollowUpSuffix string
}

// DefaultTables returns the stock suffixes.
func DefaultTables() Tables {
	return Tables{
		ChatSuffix:     "n8n_chat_histories",
		StatusSuffix:   "crm_lead_status",
		FollowUpSuffix: "followup_schedule",
	}
}

// Context is a resolved tenant. It is passed explicitly to every component
// that touches tenant data.
type Context struct {
	ID            string
	ChatTable     string
	StatusTable   string
	FollowUpTable string
	Phones        conversation.PhoneRules
}

// Resolve validates id and derives the tenant's table names.
func Resolve(id string, tables Tables, phones conversation.PhoneRules) (Context, error) {
	if !validID.MatchString(id) {
		return Context{}, fmt.Errorf("resolve %q: %w", id, ErrInvalidTenant)
	}
	for _, suffix := range []string{tables.ChatSuffix, tables.StatusSuffix, tables.FollowUpSuffix} {
		if !validID.MatchString(suffix) {
			return Context{}, fmt.Errorf("resolve %q: bad table suffix %q: %w", id, suffix, ErrInvalidTenant)
		}
	}
	return Context{
		ID:            id,
		ChatTable:     id + "_" + tables.ChatSuffix,
		StatusTable:   id + "_" + tables.StatusSuffix,
		FollowUpTable: id + "_" + tables.FollowUpSuffix,
		Phones:        phones,
	}, nil
}
