package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TxType = "income"
	Expense TxType = "expense"
)

const (
	PlanFree       Plan = "free"
	PlanProMonthly Plan = "pro_monthly"
	PlanProYearly  Plan = "pro_yearly"
)

const (
	StatusPaid    RecurringStatus = "paid"
	StatusPending RecurringStatus = "pending"
)

const dateLayout = "2006-01-02"

// DefaultCategories seeds a fresh state document.
var DefaultCategories = []string{"Combustível", "Peças", "Serviços", "Marketing", "Outros"}

type (
	TxType          string
	Plan            string
	RecurringStatus string

	// Date is a calendar date without time of day, serialized as YYYY-MM-DD.
	Date struct {
		time.Time
	}

	Transaction struct {
		ID          string          `json:"id"`
		Type        TxType          `json:"type"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
		Date        Date            `json:"date"`
		DeviceID    string          `json:"deviceId,omitempty"`
		UpdatedAt   time.Time       `json:"updatedAt"`
	}

	// Draft is the user input for a new transaction before an id is assigned.
	Draft struct {
		Type        TxType
		Category    string
		Description string
		Amount      decimal.Decimal
		Date        Date
	}

	Filters struct {
		From     Date
		To       Date
		Category string
	}

	// Stats aggregates a transaction set. ByCategory sums expenses only.
	Stats struct {
		TotalIncome      decimal.Decimal            `json:"totalIncome"`
		TotalExpense     decimal.Decimal            `json:"totalExpense"`
		Balance          decimal.Decimal            `json:"balance"`
		ByCategory       map[string]decimal.Decimal `json:"byCategory,omitempty"`
		TransactionCount int                        `json:"transactionCount"`
	}

	RecurringRule struct {
		ID          string                     `json:"id"`
		Description string                     `json:"description"`
		Amount      decimal.Decimal            `json:"amount"`
		DayOfMonth  int                        `json:"dayOfMonth"`
		History     map[string]RecurringStatus `json:"history"`
	}

	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
		Plan  Plan   `json:"plan"`
	}

	Tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}

	Session struct {
		Tokens
		User User `json:"user"`
	}

	// Document is the whole local state of one identity, persisted as a single blob.
	Document struct {
		Transactions []Transaction   `json:"transactions"`
		Categories   []string        `json:"categories"`
		Recurring    []RecurringRule `json:"recurring"`
		TierKey      string          `json:"tierKey,omitempty"`
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar date in local time.
func Today() Date {
	now := time.Now()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q", s)}
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	// backends may send full timestamps
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MonthKey returns the YYYY-MM key used by recurring rule history.
func (d Date) MonthKey() string {
	return MonthKey(d.Year(), int(d.Month()))
}

func MonthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// ParseMonthKey parses a YYYY-MM key.
func ParseMonthKey(s string) (year, month int, err error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, &ValidationError{Field: "month", Reason: fmt.Sprintf("invalid month %q", s)}
	}
	return t.Year(), int(t.Month()), nil
}

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

// IsPro reports whether the plan is any paid plan.
func (p Plan) IsPro() bool {
	return strings.HasPrefix(string(p), "pro")
}

func (d Draft) Validate() error {
	if !d.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("must be %q or %q", Income, Expense)}
	}
	if !d.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if d.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "cannot be empty"}
	}
	if strings.TrimSpace(d.Description) == "" {
		return &ValidationError{Field: "description", Reason: "cannot be empty"}
	}
	if len(d.Description) > 200 {
		return &ValidationError{Field: "description", Reason: "too long (max 200 characters)"}
	}
	if strings.TrimSpace(d.Category) == "" {
		return &ValidationError{Field: "category", Reason: "cannot be empty"}
	}
	return nil
}

func (r RecurringRule) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return &ValidationError{Field: "description", Reason: "cannot be empty"}
	}
	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
		return &ValidationError{Field: "dayOfMonth", Reason: "must be between 1 and 31"}
	}
	return nil
}

// StatusFor returns the status recorded for a month, pending when absent.
func (r RecurringRule) StatusFor(monthKey string) RecurringStatus {
	if s, ok := r.History[monthKey]; ok {
		return s
	}
	return StatusPending
}

// NewDocument returns an empty document seeded with the default categories.
func NewDocument() Document {
	cats := make([]string, len(DefaultCategories))
	copy(cats, DefaultCategories)
	return Document{
		Transactions: []Transaction{},
		Categories:   cats,
		Recurring:    []RecurringRule{},
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (d Document) Clone() Document {
	out := Document{
		Transactions: make([]Transaction, len(d.Transactions)),
		Categories:   make([]string, len(d.Categories)),
		Recurring:    make([]RecurringRule, len(d.Recurring)),
		TierKey:      d.TierKey,
	}
	copy(out.Transactions, d.Transactions)
	copy(out.Categories, d.Categories)
	for i, r := range d.Recurring {
		h := make(map[string]RecurringStatus, len(r.History))
		for k, v := range r.History {
			h[k] = v
		}
		r.History = h
		out.Recurring[i] = r
	}
	return out
}

// Validate checks the invariants a decoded document must hold before it
// replaces the current one.
func (d Document) Validate() error {
	for i, tx := range d.Transactions {
		if !tx.Type.Valid() {
			return &ValidationError{Field: fmt.Sprintf("transactions[%d].type", i), Reason: fmt.Sprintf("must be %q or %q", Income, Expense)}
		}
		if !tx.Amount.IsPositive() {
			return &ValidationError{Field: fmt.Sprintf("transactions[%d].amount", i), Reason: "must be greater than zero"}
		}
	}
	for i, r := range d.Recurring {
		if err := r.Validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return &ValidationError{Field: fmt.Sprintf("recurring[%d].%s", i, ve.Field), Reason: ve.Reason}
			}
			return err
		}
	}
	return nil
}

// Normalize fills nil collections and seeds categories on a freshly decoded document.
func (d *Document) Normalize() {
	if d.Transactions == nil {
		d.Transactions = []Transaction{}
	}
	if d.Recurring == nil {
		d.Recurring = []RecurringRule{}
	}
	if len(d.Categories) == 0 {
		d.Categories = append([]string(nil), DefaultCategories...)
	}
	for i := range d.Recurring {
		if d.Recurring[i].History == nil {
			d.Recurring[i].History = map[string]RecurringStatus{}
		}
	}
}
