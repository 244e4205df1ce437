package services

import (
	"context"
	"strings"

	"thebox/internal/core"
	"thebox/internal/log"
)

type CategoryService struct {
	doc    Document
	logger *log.Logger
}

func NewCategoryService(doc Document, logger *log.Logger) *CategoryService {
	return &CategoryService{doc: doc, logger: logger.WithComponent(log.ComponentApp)}
}

// List returns the user's categories in insertion order.
func (s *CategoryService) List() []string {
	return s.doc.Document().Categories
}

// Add appends a category. Names are trimmed and compared case-insensitively;
// adding an existing name is a no-op.
func (s *CategoryService) Add(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &core.ValidationError{Field: "category", Reason: "cannot be empty"}
	}
	if len(name) > 40 {
		return &core.ValidationError{Field: "category", Reason: "too long (max 40 characters)"}
	}
	added := false
	err := s.doc.Mutate(ctx, func(d *core.Document) error {
		if indexFold(d.Categories, name) >= 0 {
			return nil
		}
		d.Categories = append(d.Categories, name)
		added = true
		return nil
	})
	if err == nil && added {
		s.logger.InfoContext(ctx, "Category added", "category", name)
	}
	return err
}

// Delete removes a category. Transactions already filed under it keep the name.
func (s *CategoryService) Delete(ctx context.Context, name string) error {
	return s.doc.Mutate(ctx, func(d *core.Document) error {
		i := indexFold(d.Categories, strings.TrimSpace(name))
		if i < 0 {
			return core.ErrNotFound
		}
		d.Categories = append(d.Categories[:i], d.Categories[i+1:]...)
		return nil
	})
}

func indexFold(list []string, name string) int {
	for i, c := range list {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}
