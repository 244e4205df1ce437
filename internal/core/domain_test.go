package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDraftValidate(t *testing.T) {
	good := Draft{
		Type:        Expense,
		Category:    "Peças",
		Description: "pastilha de freio",
		Amount:      decimal.RequireFromString("120.50"),
		Date:        NewDate(2024, 3, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := map[string]func(d *Draft){
		"type":        func(d *Draft) { d.Type = "transfer" },
		"zero amount": func(d *Draft) { d.Amount = decimal.Zero },
		"negative":    func(d *Draft) { d.Amount = decimal.NewFromInt(-3) },
		"date":        func(d *Draft) { d.Date = Date{} },
		"description": func(d *Draft) { d.Description = "  " },
		"category":    func(d *Draft) { d.Category = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := good
			mutate(&d)
			err := d.Validate()
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2024, 2, 29))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2024-02-29"` {
		t.Fatalf("unexpected encoding %s", b)
	}

	var d Date
	if err := json.Unmarshal([]byte(`"2024-03-01T10:00:00.000Z"`), &d); err != nil {
		t.Fatalf("timestamp decode: %v", err)
	}
	if d.String() != "2024-03-01" {
		t.Fatalf("expected 2024-03-01, got %s", d)
	}
	if err := json.Unmarshal([]byte(`"01/03/2024"`), &d); err == nil {
		t.Fatalf("expected error for bad layout")
	}
}

func TestMonthKey(t *testing.T) {
	if got := NewDate(2024, 3, 15).MonthKey(); got != "2024-03" {
		t.Fatalf("expected 2024-03, got %s", got)
	}
	y, m, err := ParseMonthKey("2025-11")
	if err != nil || y != 2025 || m != 11 {
		t.Fatalf("unexpected parse %d %d %v", y, m, err)
	}
	if _, _, err := ParseMonthKey("2025-13"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := NewDocument()
	doc.Recurring = append(doc.Recurring, RecurringRule{ID: "r1", History: map[string]RecurringStatus{"2024-01": StatusPaid}})
	doc.Transactions = append(doc.Transactions, Transaction{ID: "a"})

	cp := doc.Clone()
	cp.Recurring[0].History["2024-02"] = StatusPaid
	cp.Transactions[0].ID = "b"
	cp.Categories[0] = "x"

	if len(doc.Recurring[0].History) != 1 {
		t.Fatalf("history aliased")
	}
	if doc.Transactions[0].ID != "a" || doc.Categories[0] == "x" {
		t.Fatalf("slices aliased")
	}
}

func TestNormalizeSeedsDefaults(t *testing.T) {
	var doc Document
	doc.Normalize()
	if len(doc.Categories) != len(DefaultCategories) {
		t.Fatalf("expected default categories, got %v", doc.Categories)
	}
	if doc.Transactions == nil || doc.Recurring == nil {
		t.Fatalf("collections should be non-nil")
	}
}

func TestAuthErrorMatching(t *testing.T) {
	err := error(NewAuthError(AuthRefreshInvalid, "expired"))
	wrapped := errors.Join(errors.New("refresh"), err)

	if !errors.Is(wrapped, &AuthError{Kind: AuthRefreshInvalid}) {
		t.Fatalf("expected kind match")
	}
	if errors.Is(wrapped, &AuthError{Kind: AuthEmailTaken}) {
		t.Fatalf("unexpected kind match")
	}
	if !errors.Is(wrapped, &AuthError{}) {
		t.Fatalf("empty kind should match any auth error")
	}
	if !IsAuthKind(wrapped, AuthRefreshInvalid) {
		t.Fatalf("IsAuthKind failed")
	}
}

func TestRefreshFailureIsNotNetwork(t *testing.T) {
	cause := &NetworkError{Op: "refresh", Status: 500, Err: errors.New("boom")}
	err := error(&AuthError{Kind: AuthRefreshInvalid, Message: cause.Error(), Err: cause})

	if IsNetwork(err) {
		t.Fatalf("auth failure classified as network")
	}
	if !IsNetwork(cause) {
		t.Fatalf("bare network error not classified")
	}
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Status != 500 {
		t.Fatalf("cause not reachable through Unwrap")
	}
}

func TestDocumentValidate(t *testing.T) {
	valid := Transaction{ID: "1", Type: Expense, Amount: decimal.NewFromInt(5), Date: NewDate(2024, 3, 1)}
	rule := RecurringRule{ID: "r", Description: "Aluguel", Amount: decimal.NewFromInt(800), DayOfMonth: 31}

	doc := NewDocument()
	doc.Transactions = []Transaction{valid}
	doc.Recurring = []RecurringRule{rule}
	if err := doc.Validate(); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}

	bad := valid
	bad.Type = "bogus"
	doc.Transactions = []Transaction{valid, bad}
	var ve *ValidationError
	if err := doc.Validate(); !errors.As(err, &ve) || ve.Field != "transactions[1].type" {
		t.Fatalf("expected type violation, got %v", err)
	}

	doc.Transactions = []Transaction{valid}
	rule.DayOfMonth = 32
	doc.Recurring = []RecurringRule{rule}
	if err := doc.Validate(); !errors.As(err, &ve) || ve.Field != "recurring[0].dayOfMonth" {
		t.Fatalf("expected day violation, got %v", err)
	}
}

func TestComputeStats(t *testing.T) {
	txs := []Transaction{
		{Type: Income, Amount: decimal.RequireFromString("1000")},
		{Type: Expense, Amount: decimal.RequireFromString("250.25"), Category: "Peças"},
		{Type: Expense, Amount: decimal.RequireFromString("49.75"), Category: "Combustível"},
		{Type: Expense, Amount: decimal.RequireFromString("100"), Category: "Peças"},
	}
	s := ComputeStats(txs)
	if !s.TotalIncome.Equal(decimal.NewFromInt(1000)) || !s.TotalExpense.Equal(decimal.NewFromInt(400)) || !s.Balance.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("unexpected stats %+v", s)
	}

	if s.TransactionCount != 4 || !s.ByCategory["Peças"].Equal(decimal.RequireFromString("350.25")) {
		t.Fatalf("unexpected category totals %+v", s.ByCategory)
	}

	cats := ByCategory(txs, Expense)
	if len(cats) != 2 || cats[0].Name != "Peças" || !cats[0].Amount.Equal(decimal.RequireFromString("350.25")) {
		t.Fatalf("unexpected breakdown %+v", cats)
	}
}

func TestSortByDateDescIsStable(t *testing.T) {
	txs := []Transaction{
		{ID: "a", Date: NewDate(2024, 1, 1)},
		{ID: "b", Date: NewDate(2024, 3, 1)},
		{ID: "c", Date: NewDate(2024, 2, 1)},
		{ID: "d", Date: NewDate(2024, 3, 1)},
	}
	SortByDateDesc(txs)
	want := []string{"b", "d", "c", "a"}
	for i, id := range want {
		if txs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, txs[i].ID)
		}
	}
}

func TestFilters(t *testing.T) {
	txs := []Transaction{
		{ID: "a", Date: NewDate(2024, 1, 10), Category: "Peças"},
		{ID: "b", Date: NewDate(2024, 2, 10), Category: "Marketing"},
		{ID: "c", Date: NewDate(2024, 3, 10), Category: "peças"},
	}
	got := Filters{From: NewDate(2024, 2, 1), Category: "Peças"}.Apply(txs)
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("unexpected filter result %+v", got)
	}
	got = Filters{To: NewDate(2024, 2, 10)}.Apply(txs)
	if len(got) != 2 {
		t.Fatalf("expected inclusive upper bound, got %d", len(got))
	}
}
