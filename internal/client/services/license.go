package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/client/core"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/google/uuid"
)

// License state changes jump ahead of other license edits in the queue.
const licenseStatePriority = 3

// LicenseService manages seats. An account holds at most one active seat.
//
// Unassigning a lifetime seat frees it at once. A monthly seat stays with
// its account until the paid period ends; ApplyDueUnlinks frees it then.
type LicenseService interface {
	Create(ctx context.Context, ownerID string, billing domain.Billing, paidUntil time.Time) (string, error)
	Assign(ctx context.Context, id, accountID string) error
	Unassign(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	ApplyDueUnlinks(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (Item[domain.License], error)
	List(ctx context.Context) ([]Item[domain.License], error)
	// ActiveFor returns the seat held by accountID or common.ErrorNotFound.
	ActiveFor(ctx context.Context, accountID string) (Item[domain.License], error)
}

type licenseService struct {
	core Core
}

func NewLicenseService(c Core) LicenseService {
	return &licenseService{core: c}
}

func (s *licenseService) Create(ctx context.Context, ownerID string, billing domain.Billing, paidUntil time.Time) (string, error) {
	id := uuid.NewString()
	err := s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return create(ctx, tx, domain.KindLicense, id, domain.License{
			OwnerID:   ownerID,
			Status:    domain.LicenseActive,
			Billing:   billing,
			PaidUntil: paidUntil.UTC(),
		})
	})
	if err != nil {
		return "", fmt.Errorf("create license: %w", err)
	}
	return id, nil
}

func (s *licenseService) Assign(ctx context.Context, id, accountID string) error {
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		held, err := heldBy(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if held != "" && held != id {
			return fmt.Errorf("%s holds %s: %w", accountID, held, ErrAlreadyLicensed)
		}

		return edit(ctx, tx, domain.KindLicense, id, licenseStatePriority, func(l *domain.License) error {
			switch {
			case l.Status == domain.LicenseCancelled:
				return fmt.Errorf("license %s: %w", id, ErrLicenseCancelled)
			case l.Assigned() && l.LinkedAccountID != accountID:
				return fmt.Errorf("license %s: %w", id, ErrLicenseInUse)
			}
			l.LinkedAccountID = accountID
			l.UnlinkAt = time.Time{}
			return nil
		})
	})
}

func (s *licenseService) Unassign(ctx context.Context, id string) error {
	now := s.core.Clock().Now()
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return edit(ctx, tx, domain.KindLicense, id, licenseStatePriority, func(l *domain.License) error {
			if l.LinkedAccountID == "" {
				return nil
			}
			if l.Billing == domain.BillingMonthly && l.PaidUntil.After(now) {
				l.UnlinkAt = l.PaidUntil
				return nil
			}
			l.LinkedAccountID = ""
			l.UnlinkAt = time.Time{}
			return nil
		})
	})
}

func (s *licenseService) Cancel(ctx context.Context, id string) error {
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return edit(ctx, tx, domain.KindLicense, id, licenseStatePriority, func(l *domain.License) error {
			l.Status = domain.LicenseCancelled
			l.LinkedAccountID = ""
			l.UnlinkAt = time.Time{}
			return nil
		})
	})
}

func (s *licenseService) ApplyDueUnlinks(ctx context.Context) (int, error) {
	now := s.core.Clock().Now()
	n := 0
	err := s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		recs, err := tx.Scan(ctx, domain.KindLicense)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.Status == models.StatusPendingDelete {
				continue
			}
			l, err := domain.Decode[domain.License](rec.Payload)
			if err != nil {
				return err
			}
			if l.UnlinkAt.IsZero() || l.UnlinkAt.After(now) {
				continue
			}
			err = edit(ctx, tx, domain.KindLicense, rec.ID, licenseStatePriority, func(l *domain.License) error {
				l.LinkedAccountID = ""
				l.UnlinkAt = time.Time{}
				return nil
			})
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *licenseService) Get(ctx context.Context, id string) (Item[domain.License], error) {
	return get[domain.License](ctx, s.core, domain.KindLicense, id)
}

func (s *licenseService) List(ctx context.Context) ([]Item[domain.License], error) {
	return list[domain.License](ctx, s.core, domain.KindLicense)
}

func (s *licenseService) ActiveFor(ctx context.Context, accountID string) (Item[domain.License], error) {
	all, err := s.List(ctx)
	if err != nil {
		return Item[domain.License]{}, err
	}
	for _, it := range all {
		if it.Value.Assigned() && it.Value.LinkedAccountID == accountID {
			return it, nil
		}
	}
	return Item[domain.License]{}, fmt.Errorf("license for %s: %w", accountID, common.ErrorNotFound)
}

// heldBy returns the id of the seat assigned to accountID, if any.
func heldBy(ctx context.Context, tx *core.Tx, accountID string) (string, error) {
	recs, err := tx.Scan(ctx, domain.KindLicense)
	if err != nil {
		return "", err
	}
	for _, rec := range recs {
		if rec.Status == models.StatusPendingDelete {
			continue
		}
		l, err := domain.Decode[domain.License](rec.Payload)
		if err != nil {
			return "", err
		}
		if l.Assigned() && l.LinkedAccountID == accountID {
			return rec.ID, nil
		}
	}
	return "", nil
}

// LicenseUnassignWins resolves assign-versus-unassign races in favour of
// the unassign, whichever side made it. A seat left linked to two accounts
// is worse than a lost assignment. Other conflicts fall back to LWW.
func LicenseUnassignWins(c conflict.Conflict) conflict.Verdict {
	remote, err := domain.Decode[domain.License](c.Remote.Payload)
	remoteFree := c.Remote.Deleted || (err == nil && (!remote.Assigned() || !remote.UnlinkAt.IsZero()))

	switch intent := licenseIntent(c.Pending); {
	case intent == intentUnassign && !remoteFree:
		return conflict.Verdict{Decision: conflict.KeepLocalRetry, Reason: "license: local unassign wins"}
	case intent == intentAssign && remoteFree:
		return conflict.Verdict{Decision: conflict.AcceptRemote, Reason: "license: remote unassign wins"}
	}
	return conflict.Verdict{Decision: conflict.Defer}
}

type linkIntent int

const (
	intentNone linkIntent = iota
	intentAssign
	intentUnassign
)

// licenseIntent reads what the queued diff does to the seat's link.
func licenseIntent(op *models.PendingOperation) linkIntent {
	if op == nil {
		return intentNone
	}
	if op.Action == models.ActionDelete {
		return intentUnassign
	}
	diff := diffKeys(op)
	if status, ok := diff["status"]; ok && string(status) == `"`+string(domain.LicenseCancelled)+`"` {
		return intentUnassign
	}
	if at, ok := diff["unlinkAt"]; ok && !isNullOrEmpty(at) {
		return intentUnassign
	}
	if link, ok := diff["linkedAccountId"]; ok {
		if isNullOrEmpty(link) {
			return intentUnassign
		}
		return intentAssign
	}
	return intentNone
}

func isNullOrEmpty(v json.RawMessage) bool {
	s := string(v)
	return s == "null" || s == `""`
}
