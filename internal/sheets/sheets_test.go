package sheets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/mirror"
	"thebox/internal/sheets"
	"thebox/internal/sheets/memory"
)

func sampleTx() core.Transaction {
	return core.Transaction{
		ID:          "t-1",
		Type:        core.Expense,
		Category:    "Combustível",
		Description: "posto",
		Amount:      decimal.RequireFromString("1234.5"),
		Date:        core.NewDate(2024, 3, 9),
	}
}

func TestRowFromEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    mirror.Event
		wantOK   bool
		wantType string
	}{
		{"created expense", mirror.NewEvent(mirror.WithType(mirror.TypeTransactionCreated), mirror.WithTransaction(sampleTx())), true, "Despesa"},
		{"updated expense", mirror.NewEvent(mirror.WithType(mirror.TypeTransactionUpdated), mirror.WithTransaction(sampleTx())), true, "Despesa (editado)"},
		{"deleted", mirror.NewEvent(mirror.WithType(mirror.TypeTransactionDeleted), mirror.WithTransaction(sampleTx())), true, "Excluído"},
		{"registration", mirror.NewEvent(mirror.WithType(mirror.TypeUserRegistered)), false, ""},
		{"unknown type", mirror.NewEvent(mirror.WithType("other"), mirror.WithTransaction(sampleTx())), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, ok := sheets.RowFromEvent(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && row.Type != tt.wantType {
				t.Errorf("type = %q, want %q", row.Type, tt.wantType)
			}
		})
	}
}

func TestRowValues(t *testing.T) {
	e := mirror.NewEvent(mirror.WithType(mirror.TypeTransactionCreated), mirror.WithEmail("ana@box.com"), mirror.WithTransaction(sampleTx()))
	row, _ := sheets.RowFromEvent(e)
	got := row.Values()
	want := []any{"09/03/2024", "Despesa", "Combustível", "posto", "1234,50", "t-1", "ana@box.com"}
	if len(got) != len(sheets.Header) {
		t.Fatalf("row has %d cells, header has %d", len(got), len(sheets.Header))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cell %d = %v, want %v", i, got[i], want[i])
		}
	}
}

type failingAppender struct{}

func (failingAppender) AppendRow(context.Context, sheets.Row) error { return errors.New("quota") }

func TestProjector(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	p := sheets.NewProjector(store, log.Discard())

	if err := p.Handle(ctx, mirror.NewEvent(mirror.WithType(mirror.TypeUserRegistered))); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := p.Handle(ctx, mirror.NewEvent(mirror.WithType(mirror.TypeTransactionCreated), mirror.WithTransaction(sampleTx()))); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rows := store.Rows(); len(rows) != 1 || rows[0].ID != "t-1" {
		t.Errorf("rows = %+v", rows)
	}

	failing := sheets.NewProjector(failingAppender{}, log.Discard())
	if err := failing.Handle(ctx, mirror.NewEvent(mirror.WithType(mirror.TypeTransactionCreated), mirror.WithTransaction(sampleTx()))); err == nil {
		t.Error("Handle() should surface append errors so the message is requeued")
	}
}
