// Package analytics computes dashboard rollups over classified leads.
package analytics

import (
	"sort"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/classifier"
	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
	"github.com/brunao23/GerenciaBH-sub000/internal/leads"
)

// DayCount is the message volume of one BRT calendar day.
type DayCount struct {
	Day      string `json:"day"`
	Messages int    `json:"messages"`
	Lead     int    `json:"lead"`
	Agent    int    `json:"agent"`
	Leads    int    `json:"active_leads"`
}

// Summary is the analytics rollup for one tenant.
type Summary struct {
	GeneratedAt    time.Time                 `json:"generated_at"`
	TotalLeads     int                       `json:"total_leads"`
	TotalMessages  int                       `json:"total_messages"`
	LeadMessages   int                       `json:"lead_messages"`
	AgentMessages  int                       `json:"agent_messages"`
	ByStatus       map[classifier.Status]int `json:"by_status"`
	WithError      int                       `json:"with_error"`
	WithSuccess    int                       `json:"with_success"`
	Converted      int                       `json:"converted"`
	ConversionRate float64                   `json:"conversion_rate"`
	Daily          []DayCount                `json:"daily"`
}

// converted statuses count toward the conversion rate.
var converted = map[classifier.Status]bool{
	classifier.Agendado: true,
	classifier.Ganho:    true,
}

// Rollup computes the summary. Days are BRT calendar days in ascending order.
func Rollup(items []leads.Classified, now time.Time) Summary {
	sum := Summary{
		GeneratedAt: now,
		TotalLeads:  len(items),
		ByStatus:    make(map[classifier.Status]int, len(classifier.All)),
	}
	for _, st := range classifier.All {
		sum.ByStatus[st] = 0
	}

	days := make(map[string]*DayCount)
	for _, it := range items {
		s := it.Identity.Session
		sum.ByStatus[it.Decision.Status]++
		if converted[it.Decision.Status] {
			sum.Converted++
		}
		if s.HasError {
			sum.WithError++
		}
		if s.HasSuccess {
			sum.WithSuccess++
		}

		active := make(map[string]bool)
		for _, m := range s.Messages {
			day := m.Timestamp.In(conversation.BRT).Format("2006-01-02")
			dc, ok := days[day]
			if !ok {
				dc = &DayCount{Day: day}
				days[day] = dc
			}
			dc.Messages++
			sum.TotalMessages++
			if m.Role == conversation.RoleLead {
				dc.Lead++
				sum.LeadMessages++
			} else {
				dc.Agent++
				sum.AgentMessages++
			}
			if !active[day] {
				active[day] = true
				dc.Leads++
			}
		}
	}

	if sum.TotalLeads > 0 {
		sum.ConversionRate = float64(sum.Converted) / float64(sum.TotalLeads)
	}

	sum.Daily = make([]DayCount, 0, len(days))
	for _, dc := range days {
		sum.Daily = append(sum.Daily, *dc)
	}
	sort.Slice(sum.Daily, func(i, j int) bool {
		return sum.Daily[i].Day < sum.Daily[j].Day
	})
	return sum
}
