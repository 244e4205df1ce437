package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"thebox/internal/core"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("corpo da requisição vazio")
		}
		return errors.New("JSON inválido")
	}
	return nil
}

type userView struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Plan  core.Plan `json:"plan"`
}

func viewUser(u core.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Plan: u.Plan}
}

type transactionView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Date        core.Date `json:"date"`
	DeviceID    string    `json:"device_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewTransaction(userID string, tx core.Transaction) transactionView {
	return transactionView{
		ID:          tx.ID,
		UserID:      userID,
		Type:        string(tx.Type),
		Category:    tx.Category,
		Description: tx.Description,
		Amount:      tx.Amount.InexactFloat64(),
		Date:        tx.Date,
		DeviceID:    tx.DeviceID,
		UpdatedAt:   tx.UpdatedAt,
	}
}

// transactionRequest is the body of POST and PUT /transactions.
type transactionRequest struct {
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        core.Date       `json:"date"`
	DeviceID    string          `json:"device_id"`
}

func (t transactionRequest) draft() core.Draft {
	cat := t.Category
	if cat == "" {
		cat = "Outros"
	}
	return core.Draft{
		Type:        core.TxType(t.Type),
		Category:    cat,
		Description: t.Description,
		Amount:      t.Amount,
		Date:        t.Date,
	}
}

type statsView struct {
	TotalIncome      float64            `json:"totalIncome"`
	TotalExpense     float64            `json:"totalExpense"`
	Balance          float64            `json:"balance"`
	ByCategory       map[string]float64 `json:"byCategory"`
	TransactionCount int                `json:"transactionCount"`
}

func viewStats(s core.Stats) statsView {
	out := statsView{
		TotalIncome:      s.TotalIncome.InexactFloat64(),
		TotalExpense:     s.TotalExpense.InexactFloat64(),
		Balance:          s.Balance.InexactFloat64(),
		ByCategory:       make(map[string]float64, len(s.ByCategory)),
		TransactionCount: s.TransactionCount,
	}
	for k, v := range s.ByCategory {
		out.ByCategory[k] = v.InexactFloat64()
	}
	return out
}
