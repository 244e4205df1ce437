// Package services holds the client-side features that live entirely in the
// state document: categories, recurring bills, the license key and backups.
//
// Every change goes through Document.Mutate or Document.Replace, so a failed
// write leaves the in-memory document untouched.
package services

import (
	"context"

	"thebox/internal/core"
	"thebox/internal/tier"
)

// Document is the part of reconciler.Reconciler the services depend on.
type Document interface {
	Document() core.Document
	Mutate(ctx context.Context, fn func(*core.Document) error) error
	// Replace rewrites the whole document; it fails with core.ErrPending
	// while creates are in flight.
	Replace(ctx context.Context, fn func(*core.Document) error) error
	Tier() tier.Tier
	ProKey() string
}
