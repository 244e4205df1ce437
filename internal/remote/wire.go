package remote

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"thebox/internal/core"
)

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type transactionDTO struct {
	ID          flexID     `json:"id,omitempty"`
	Type        string     `json:"type"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
	Date        core.Date  `json:"date"`
	DeviceID    string     `json:"device_id,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (d transactionDTO) toCore() core.Transaction {
	tx := core.Transaction{
		ID:          string(d.ID),
		Type:        core.TxType(d.Type),
		Category:    d.Category,
		Description: d.Description,
		Amount:      decimal.NewFromFloat(d.Amount).Round(2),
		Date:        d.Date,
		DeviceID:    d.DeviceID,
	}
	if d.UpdatedAt != nil {
		tx.UpdatedAt = *d.UpdatedAt
	}
	return tx
}

func draftToDTO(d core.Draft, deviceID string) transactionDTO {
	return transactionDTO{
		Type:        string(d.Type),
		Category:    d.Category,
		Description: d.Description,
		Amount:      d.Amount.InexactFloat64(),
		Date:        d.Date,
		DeviceID:    deviceID,
	}
}

type userDTO struct {
	ID    flexID `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Plan  string `json:"plan"`
}

func (u userDTO) toCore() core.User {
	plan := core.Plan(u.Plan)
	if plan == "" {
		plan = core.PlanFree
	}
	return core.User{ID: string(u.ID), Email: u.Email, Name: u.Name, Plan: plan}
}

type authResponse struct {
	User   userDTO     `json:"user"`
	Tokens core.Tokens `json:"tokens"`
}

type statsDTO struct {
	TotalIncome      float64            `json:"totalIncome"`
	TotalExpense     float64            `json:"totalExpense"`
	Balance          float64            `json:"balance"`
	ByCategory       map[string]float64 `json:"byCategory,omitempty"`
	TransactionCount int                `json:"transactionCount,omitempty"`
}

func (s statsDTO) toCore() core.Stats {
	out := core.Stats{
		TotalIncome:      decimal.NewFromFloat(s.TotalIncome).Round(2),
		TotalExpense:     decimal.NewFromFloat(s.TotalExpense).Round(2),
		Balance:          decimal.NewFromFloat(s.Balance).Round(2),
		ByCategory:       make(map[string]decimal.Decimal, len(s.ByCategory)),
		TransactionCount: s.TransactionCount,
	}
	for k, v := range s.ByCategory {
		out.ByCategory[k] = decimal.NewFromFloat(v).Round(2)
	}
	return out
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
