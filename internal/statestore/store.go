// Package statestore persists the per-identity state document and the session material.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"thebox/internal/core"
	"thebox/internal/kv"
	"thebox/internal/log"
)

const (
	documentPrefix  = "thebox_data_"
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
	keyUser         = "user"
)

type Store struct {
	kv     kv.Store
	logger *log.Logger
}

func New(store kv.Store, logger *log.Logger) *Store {
	return &Store{kv: store, logger: logger.WithComponent(log.ComponentStore)}
}

// DocumentKey derives the storage key for an identity: every character outside
// [a-z0-9] of the lower-cased email becomes '_'.
func DocumentKey(email string) string {
	var b strings.Builder
	b.WriteString(documentPrefix)
	for _, r := range strings.ToLower(strings.TrimSpace(email)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// LoadDocument returns the stored document for email, or a freshly seeded one.
func (s *Store) LoadDocument(ctx context.Context, email string) (core.Document, error) {
	if strings.TrimSpace(email) == "" {
		return core.Document{}, &core.ValidationError{Field: "email", Reason: "cannot be empty"}
	}
	var doc core.Document
	err := kv.GetJSON(ctx, s.kv, DocumentKey(email), &doc)
	if errors.Is(err, kv.ErrNotFound) {
		return core.NewDocument(), nil
	}
	if err != nil {
		return core.Document{}, fmt.Errorf("load document: %w", err)
	}
	doc.Normalize()
	return doc, nil
}

// SaveDocument writes the complete document in one Put.
func (s *Store) SaveDocument(ctx context.Context, email string, doc core.Document) error {
	if err := kv.PutJSON(ctx, s.kv, DocumentKey(email), doc); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist state document",
			log.FieldOperation, log.OpPersist,
			log.FieldError, err)
		return fmt.Errorf("save document: %w", err)
	}
	s.logger.DebugContext(ctx, "State document persisted",
		log.FieldCount, len(doc.Transactions))
	return nil
}

// SaveSession stores both tokens and the user.
func (s *Store) SaveSession(ctx context.Context, sess core.Session) error {
	if err := s.putString(ctx, keyAccessToken, sess.AccessToken); err != nil {
		return err
	}
	if err := s.putString(ctx, keyRefreshToken, sess.RefreshToken); err != nil {
		return err
	}
	if err := kv.PutJSON(ctx, s.kv, keyUser, sess.User); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// SaveAccessToken replaces only the access token after a refresh.
func (s *Store) SaveAccessToken(ctx context.Context, token string) error {
	return s.putString(ctx, keyAccessToken, token)
}

// LoadSession reconstructs the persisted session. ok is false when any part is missing.
func (s *Store) LoadSession(ctx context.Context) (sess core.Session, ok bool, err error) {
	access, err := s.getString(ctx, keyAccessToken)
	if err != nil || access == "" {
		return core.Session{}, false, ignoreNotFound(err)
	}
	refresh, err := s.getString(ctx, keyRefreshToken)
	if err != nil || refresh == "" {
		return core.Session{}, false, ignoreNotFound(err)
	}
	var user core.User
	if err := kv.GetJSON(ctx, s.kv, keyUser, &user); err != nil {
		return core.Session{}, false, ignoreNotFound(err)
	}
	if user.Email == "" {
		return core.Session{}, false, nil
	}
	return core.Session{
		Tokens: core.Tokens{AccessToken: access, RefreshToken: refresh},
		User:   user,
	}, true, nil
}

// ClearSession removes every piece of session material. Safe to call repeatedly.
func (s *Store) ClearSession(ctx context.Context) error {
	var errs []error
	for _, k := range []string{keyAccessToken, keyRefreshToken, keyUser} {
		if err := s.kv.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) putString(ctx context.Context, key, v string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, key, b); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	var v string
	if err := kv.GetJSON(ctx, s.kv, key, &v); err != nil {
		return "", err
	}
	return v, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}
