package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/tier"
)

const utf8BOM = "\uFEFF"

var csvHeader = []string{"ID", "Tipo", "Categoria", "Descrição", "Valor", "Data"}

type BackupService struct {
	doc    Document
	logger *log.Logger
}

func NewBackupService(doc Document, logger *log.Logger) *BackupService {
	return &BackupService{doc: doc, logger: logger.WithComponent(log.ComponentApp)}
}

// ExportJSON serializes the whole state document.
func (s *BackupService) ExportJSON() ([]byte, error) {
	if err := tier.Require(tier.FeatureBackup, s.doc.Tier()); err != nil {
		return nil, err
	}
	return json.MarshalIndent(s.doc.Document(), "", "  ")
}

// ExportCSV writes transactions as a spreadsheet-friendly CSV: UTF-8 BOM,
// semicolon separated, decimal comma.
func (s *BackupService) ExportCSV() ([]byte, error) {
	if err := tier.Require(tier.FeatureExportCSV, s.doc.Tier()); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	txs := s.doc.Document().Transactions
	core.SortByDateDesc(txs)
	for _, tx := range txs {
		record := []string{
			tx.ID,
			string(tx.Type),
			tx.Category,
			tx.Description,
			strings.Replace(tx.Amount.StringFixed(2), ".", ",", 1),
			tx.Date.String(),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the document with a JSON backup. The current tier key
// survives the restore. Backups that break the document invariants are
// rejected whole.
func (s *BackupService) Restore(ctx context.Context, data []byte) error {
	if err := tier.Require(tier.FeatureRestore, s.doc.Tier()); err != nil {
		return err
	}
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return &core.ValidationError{Field: "backup", Reason: "not a JSON document"}
	}
	if raw, ok := shape["transactions"]; !ok || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return &core.ValidationError{Field: "backup", Reason: "missing transactions list"}
	}
	var restored core.Document
	if err := json.Unmarshal(data, &restored); err != nil {
		return &core.ValidationError{Field: "backup", Reason: err.Error()}
	}
	if err := restored.Validate(); err != nil {
		return err
	}
	err := s.doc.Replace(ctx, func(d *core.Document) error {
		restored.TierKey = d.TierKey
		*d = restored
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "State restored from backup",
		log.FieldCount, len(restored.Transactions))
	return nil
}

// Reset wipes transactions, recurring rules and custom categories, keeping
// the tier key.
func (s *BackupService) Reset(ctx context.Context) error {
	if err := tier.Require(tier.FeatureReset, s.doc.Tier()); err != nil {
		return err
	}
	err := s.doc.Replace(ctx, func(d *core.Document) error {
		key := d.TierKey
		*d = core.NewDocument()
		d.TierKey = key
		return nil
	})
	if err == nil {
		s.logger.WarnContext(ctx, "State reset to defaults")
	}
	return err
}
