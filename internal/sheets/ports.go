// Package sheets projects ledger events onto spreadsheet rows.
package sheets

import (
	"context"
	"strings"

	"thebox/internal/core"
	"thebox/internal/mirror"
)

// Header is the first row of the mirrored sheet.
var Header = []string{"Data", "Tipo", "Categoria", "Descrição", "Valor", "ID", "Email"}

type (
	Row struct {
		Date        string
		Type        string
		Category    string
		Description string
		Amount      string
		ID          string
		Email       string
	}

	RowAppender interface {
		AppendRow(ctx context.Context, r Row) error
	}
)

// Values returns the cells in Header order.
func (r Row) Values() []any {
	return []any{r.Date, r.Type, r.Category, r.Description, r.Amount, r.ID, r.Email}
}

// RowFromEvent maps a transaction event to a row. Events without a
// transaction have no row.
func RowFromEvent(e mirror.Event) (Row, bool) {
	if e.Transaction == nil {
		return Row{}, false
	}
	tx := e.Transaction
	label := "Despesa"
	if tx.Type == core.Income {
		label = "Receita"
	}
	switch e.Type {
	case mirror.TypeTransactionDeleted:
		label = "Excluído"
	case mirror.TypeTransactionUpdated:
		label += " (editado)"
	case mirror.TypeTransactionCreated:
	default:
		return Row{}, false
	}
	date := ""
	if !tx.Date.IsZero() {
		date = tx.Date.Format("02/01/2006")
	}
	return Row{
		Date:        date,
		Type:        label,
		Category:    tx.Category,
		Description: tx.Description,
		Amount:      strings.Replace(tx.Amount.StringFixed(2), ".", ",", 1),
		ID:          tx.ID,
		Email:       e.Email,
	}, true
}
