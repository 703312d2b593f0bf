// Package repository provides data access layer implementations.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

// ResultArchive defines the interface for archived optimization results.
type ResultArchive interface {
	// Create stores a new archived result.
	Create(ctx context.Context, result *domain.ArchivedResult) error

	// GetByID retrieves an archived result by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ArchivedResult, error)

	// List lists archived results, newest first.
	List(ctx context.Context, query domain.ArchiveQuery) ([]*domain.ArchivedResult, error)
}
