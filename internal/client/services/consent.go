package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/motiumsync/internal/client/core"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/google/uuid"
)

// consentNamespace scopes the name-based consent ids.
var consentNamespace = uuid.MustParse("6f1c3f0e-5a7b-4d4e-9b8e-3c2a1d0f9e87")

// ConsentID is the id of the consent of userID for purpose. It is the same
// on every device, so answers given offline on two devices meet in one
// record.
func ConsentID(userID, purpose string) string {
	return uuid.NewSHA1(consentNamespace, []byte(userID+"\x00"+purpose)).String()
}

// ConsentService records answers to versioned policies. An answer for an
// older policy than the stored one is rejected.
type ConsentService interface {
	Grant(ctx context.Context, userID, purpose string, policyVersion int) (string, error)
	Revoke(ctx context.Context, userID, purpose string, policyVersion int) (string, error)
	Current(ctx context.Context, userID, purpose string) (Item[domain.Consent], error)
	List(ctx context.Context) ([]Item[domain.Consent], error)
}

type consentService struct {
	core Core
}

func NewConsentService(c Core) ConsentService {
	return &consentService{core: c}
}

func (s *consentService) Grant(ctx context.Context, userID, purpose string, policyVersion int) (string, error) {
	return s.answer(ctx, userID, purpose, policyVersion, true)
}

func (s *consentService) Revoke(ctx context.Context, userID, purpose string, policyVersion int) (string, error) {
	return s.answer(ctx, userID, purpose, policyVersion, false)
}

func (s *consentService) answer(ctx context.Context, userID, purpose string, policyVersion int, granted bool) (string, error) {
	id := ConsentID(userID, purpose)
	now := s.core.Clock().Now().UTC()

	err := s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		_, err := tx.Get(ctx, domain.KindConsent, id)
		if errors.Is(err, common.ErrorNotFound) {
			return create(ctx, tx, domain.KindConsent, id, domain.Consent{
				UserID:        userID,
				Purpose:       purpose,
				PolicyVersion: policyVersion,
				Granted:       granted,
				GrantedAt:     now,
			})
		}
		if err != nil {
			return err
		}
		return edit(ctx, tx, domain.KindConsent, id, domain.KindConsent.DefaultPriority(), func(c *domain.Consent) error {
			if policyVersion < c.PolicyVersion {
				return fmt.Errorf("policy %d < %d: %w", policyVersion, c.PolicyVersion, ErrStalePolicy)
			}
			if c.PolicyVersion == policyVersion && c.Granted == granted {
				return nil
			}
			c.PolicyVersion = policyVersion
			c.Granted = granted
			c.GrantedAt = now
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("consent %s/%s: %w", userID, purpose, err)
	}
	return id, nil
}

func (s *consentService) Current(ctx context.Context, userID, purpose string) (Item[domain.Consent], error) {
	return get[domain.Consent](ctx, s.core, domain.KindConsent, ConsentID(userID, purpose))
}

func (s *consentService) List(ctx context.Context) ([]Item[domain.Consent], error) {
	return list[domain.Consent](ctx, s.core, domain.KindConsent)
}

// ConsentHigherPolicyWins keeps whichever side answered the newer policy.
// Answers to the same policy fall back to LWW.
func ConsentHigherPolicyWins(c conflict.Conflict) conflict.Verdict {
	if c.Remote.Deleted || c.Local == nil {
		return conflict.Verdict{Decision: conflict.Defer}
	}
	local, err := domain.Decode[domain.Consent](c.Local.Payload)
	if err != nil {
		return conflict.Verdict{Decision: conflict.Defer}
	}
	remote, err := domain.Decode[domain.Consent](c.Remote.Payload)
	if err != nil {
		return conflict.Verdict{Decision: conflict.Defer}
	}

	switch {
	case local.PolicyVersion > remote.PolicyVersion:
		return conflict.Verdict{Decision: conflict.KeepLocalRetry, Reason: "consent: local policy newer"}
	case local.PolicyVersion < remote.PolicyVersion:
		return conflict.Verdict{Decision: conflict.AcceptRemote, Reason: "consent: remote policy newer"}
	}
	return conflict.Verdict{Decision: conflict.Defer}
}
