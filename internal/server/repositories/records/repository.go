package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, userID, kind, id string) (*models.Record, error)
	Lock(ctx context.Context, userID, kind, id string) (*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) error
	Update(ctx context.Context, rec *models.Record, expectedVersion int64) error
	ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*models.Record, error)
}
