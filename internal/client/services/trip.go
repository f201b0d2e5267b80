package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/core"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/google/uuid"
)

type TripService interface {
	Start(ctx context.Context, startedAt time.Time, vehicleID, purpose string) (string, error)
	Finish(ctx context.Context, id string, endedAt time.Time, distanceKm float64) error
	SetPurpose(ctx context.Context, id, purpose string) error
	// Validate locks the trip against further edits.
	Validate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Item[domain.Trip], error)
	List(ctx context.Context) ([]Item[domain.Trip], error)
}

type tripService struct {
	core Core
}

func NewTripService(c Core) TripService {
	return &tripService{core: c}
}

func (s *tripService) Start(ctx context.Context, startedAt time.Time, vehicleID, purpose string) (string, error) {
	id := uuid.NewString()
	err := s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return create(ctx, tx, domain.KindTrip, id, domain.Trip{
			StartedAt: startedAt.UTC(),
			VehicleID: vehicleID,
			Purpose:   purpose,
		})
	})
	if err != nil {
		return "", fmt.Errorf("start trip: %w", err)
	}
	return id, nil
}

func (s *tripService) Finish(ctx context.Context, id string, endedAt time.Time, distanceKm float64) error {
	return s.edit(ctx, id, func(t *domain.Trip) error {
		t.EndedAt = endedAt.UTC()
		t.DistanceKm = distanceKm
		return nil
	})
}

func (s *tripService) SetPurpose(ctx context.Context, id, purpose string) error {
	return s.edit(ctx, id, func(t *domain.Trip) error {
		t.Purpose = purpose
		return nil
	})
}

func (s *tripService) Validate(ctx context.Context, id string) error {
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return edit(ctx, tx, domain.KindTrip, id, domain.KindTrip.DefaultPriority(), func(t *domain.Trip) error {
			if t.EndedAt.IsZero() {
				return fmt.Errorf("trip %s has not ended", id)
			}
			t.Validated = true
			return nil
		})
	})
}

func (s *tripService) edit(ctx context.Context, id string, fn func(t *domain.Trip) error) error {
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return edit(ctx, tx, domain.KindTrip, id, domain.KindTrip.DefaultPriority(), func(t *domain.Trip) error {
			if t.Validated {
				return fmt.Errorf("trip %s: %w", id, ErrTripValidated)
			}
			return fn(t)
		})
	})
}

func (s *tripService) Delete(ctx context.Context, id string) error {
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return remove(ctx, tx, domain.KindTrip, id, domain.KindTrip.DefaultPriority())
	})
}

func (s *tripService) Get(ctx context.Context, id string) (Item[domain.Trip], error) {
	return get[domain.Trip](ctx, s.core, domain.KindTrip, id)
}

func (s *tripService) List(ctx context.Context) ([]Item[domain.Trip], error) {
	return list[domain.Trip](ctx, s.core, domain.KindTrip)
}
