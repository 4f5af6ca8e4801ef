// Package users persists platform accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
)

type Repository interface {
	// Create inserts account and fills in its ID and timestamps. A taken email
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	// GetByEmail returns common.ErrorNotFound for unknown emails.
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
}
