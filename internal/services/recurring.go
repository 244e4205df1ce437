package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"thebox/internal/core"
	"thebox/internal/log"
)

// RecurringSummary totals the rules for one month.
type RecurringSummary struct {
	Month   string
	Total   decimal.Decimal
	Paid    decimal.Decimal
	Pending decimal.Decimal
	Items   []RecurringItem
}

type RecurringItem struct {
	Rule    core.RecurringRule
	Status  core.RecurringStatus
	DueDate core.Date
}

type RecurringService struct {
	doc    Document
	logger *log.Logger
}

func NewRecurringService(doc Document, logger *log.Logger) *RecurringService {
	return &RecurringService{doc: doc, logger: logger.WithComponent(log.ComponentApp)}
}

func (s *RecurringService) List() []core.RecurringRule {
	return s.doc.Document().Recurring
}

// Add creates a rule with an empty history.
func (s *RecurringService) Add(ctx context.Context, description string, amount decimal.Decimal, day int) (core.RecurringRule, error) {
	rule := core.RecurringRule{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(description),
		Amount:      amount.Round(2),
		DayOfMonth:  day,
		History:     map[string]core.RecurringStatus{},
	}
	if err := rule.Validate(); err != nil {
		return core.RecurringRule{}, err
	}
	err := s.doc.Mutate(ctx, func(d *core.Document) error {
		d.Recurring = append(d.Recurring, rule)
		return nil
	})
	if err != nil {
		return core.RecurringRule{}, err
	}
	s.logger.InfoContext(ctx, "Recurring rule added", "rule_id", rule.ID, "day", day)
	return rule, nil
}

// Update rewrites description, amount and day, keeping the history.
func (s *RecurringService) Update(ctx context.Context, id, description string, amount decimal.Decimal, day int) (core.RecurringRule, error) {
	var out core.RecurringRule
	err := s.doc.Mutate(ctx, func(d *core.Document) error {
		i := ruleIndex(d.Recurring, id)
		if i < 0 {
			return core.ErrNotFound
		}
		r := d.Recurring[i]
		r.Description = strings.TrimSpace(description)
		r.Amount = amount.Round(2)
		r.DayOfMonth = day
		if err := r.Validate(); err != nil {
			return err
		}
		d.Recurring[i] = r
		out = r
		return nil
	})
	return out, err
}

func (s *RecurringService) Delete(ctx context.Context, id string) error {
	return s.doc.Mutate(ctx, func(d *core.Document) error {
		i := ruleIndex(d.Recurring, id)
		if i < 0 {
			return core.ErrNotFound
		}
		d.Recurring = append(d.Recurring[:i], d.Recurring[i+1:]...)
		return nil
	})
}

// TogglePaid flips the rule's status for month between paid and pending.
// History keys are written, never removed.
func (s *RecurringService) TogglePaid(ctx context.Context, id, month string) (core.RecurringStatus, error) {
	if _, _, err := core.ParseMonthKey(month); err != nil {
		return "", err
	}
	var next core.RecurringStatus
	err := s.doc.Mutate(ctx, func(d *core.Document) error {
		i := ruleIndex(d.Recurring, id)
		if i < 0 {
			return core.ErrNotFound
		}
		next = core.StatusPaid
		if d.Recurring[i].StatusFor(month) == core.StatusPaid {
			next = core.StatusPending
		}
		d.Recurring[i].History[month] = next
		return nil
	})
	return next, err
}

// Summary reports the rules of month with their status and due date.
func (s *RecurringService) Summary(month string) (RecurringSummary, error) {
	year, mon, err := core.ParseMonthKey(month)
	if err != nil {
		return RecurringSummary{}, err
	}
	sum := RecurringSummary{
		Month:   core.MonthKey(year, mon),
		Total:   decimal.Zero,
		Paid:    decimal.Zero,
		Pending: decimal.Zero,
	}
	for _, r := range s.List() {
		status := r.StatusFor(sum.Month)
		sum.Total = sum.Total.Add(r.Amount)
		if status == core.StatusPaid {
			sum.Paid = sum.Paid.Add(r.Amount)
		} else {
			sum.Pending = sum.Pending.Add(r.Amount)
		}
		sum.Items = append(sum.Items, RecurringItem{Rule: r, Status: status, DueDate: DueDate(r, year, mon)})
	}
	return sum, nil
}

// DueDate places the rule's day in the given month, clamped to its last day.
func DueDate(r core.RecurringRule, year, month int) core.Date {
	lastDay := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := r.DayOfMonth
	if day > lastDay {
		day = lastDay
	}
	if day < 1 {
		day = 1
	}
	return core.NewDate(year, month, day)
}

// Overdue reports whether the rule is still pending after its due date.
func Overdue(r core.RecurringRule, today core.Date) bool {
	if r.StatusFor(today.MonthKey()) == core.StatusPaid {
		return false
	}
	due := DueDate(r, today.Year(), int(today.Month()))
	return today.After(due.Time)
}

func ruleIndex(rules []core.RecurringRule, id string) int {
	for i, r := range rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s RecurringSummary) String() string {
	return fmt.Sprintf("%s total %s, paid %s, pending %s",
		s.Month, core.FormatAmount(s.Total), core.FormatAmount(s.Paid), core.FormatAmount(s.Pending))
}
