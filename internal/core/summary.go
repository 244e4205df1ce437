package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// ComputeStats derives income, expense and balance from a transaction set.
func ComputeStats(txs []Transaction) Stats {
	s := Stats{
		TotalIncome:      decimal.Zero,
		TotalExpense:     decimal.Zero,
		ByCategory:       map[string]decimal.Decimal{},
		TransactionCount: len(txs),
	}
	for _, tx := range txs {
		switch tx.Type {
		case Income:
			s.TotalIncome = s.TotalIncome.Add(tx.Amount)
		case Expense:
			s.TotalExpense = s.TotalExpense.Add(tx.Amount)
			s.ByCategory[tx.Category] = s.ByCategory[tx.Category].Add(tx.Amount)
		}
	}
	s.Balance = s.TotalIncome.Sub(s.TotalExpense)
	return s
}

// ByCategory sums amounts of the given type per category, largest first.
func ByCategory(txs []Transaction, typ TxType) []CategoryAmount {
	totals := map[string]decimal.Decimal{}
	for _, tx := range txs {
		if tx.Type != typ {
			continue
		}
		totals[tx.Category] = totals[tx.Category].Add(tx.Amount)
	}
	out := make([]CategoryAmount, 0, len(totals))
	for name, amt := range totals {
		out = append(out, CategoryAmount{Name: name, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Match reports whether a transaction passes the filters.
func (f Filters) Match(tx Transaction) bool {
	if !f.From.IsZero() && tx.Date.Before(f.From.Time) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To.Time) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, tx.Category) {
		return false
	}
	return true
}

// Apply returns the subset of txs matching the filters, keeping order.
func (f Filters) Apply(txs []Transaction) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// SortByDateDesc orders transactions newest first; equal dates keep their order.
func SortByDateDesc(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Date.After(txs[j].Date.Time)
	})
}

// ZeroStats is what read paths fall back to when the ledger is unreachable.
func ZeroStats() Stats {
	return ComputeStats(nil)
}
