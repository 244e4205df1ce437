package services

import (
	"context"
	"errors"
	"strings"

	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/tier"
)

var ErrInvalidLicense = errors.New("invalid license key")

type LicenseService struct {
	doc    Document
	logger *log.Logger
}

func NewLicenseService(doc Document, logger *log.Logger) *LicenseService {
	return &LicenseService{doc: doc, logger: logger.WithComponent(log.ComponentApp)}
}

// Activate stores key as the tier key when it matches the configured pro key.
func (s *LicenseService) Activate(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	proKey := s.doc.ProKey()
	if proKey == "" || key != proKey {
		return ErrInvalidLicense
	}
	if err := s.doc.Mutate(ctx, func(d *core.Document) error {
		d.TierKey = key
		return nil
	}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "License activated", log.FieldTier, string(tier.Pro))
	return nil
}

func (s *LicenseService) Deactivate(ctx context.Context) error {
	return s.doc.Mutate(ctx, func(d *core.Document) error {
		d.TierKey = ""
		return nil
	})
}

// Active reports whether the stored key grants pro.
func (s *LicenseService) Active() bool {
	k := s.doc.Document().TierKey
	return k != "" && k == s.doc.ProKey()
}
