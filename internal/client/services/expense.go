package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/motiumsync/internal/client/core"
	"github.com/dmitrijs2005/motiumsync/internal/client/models"
	"github.com/dmitrijs2005/motiumsync/internal/client/sync/conflict"
	"github.com/dmitrijs2005/motiumsync/internal/domain"
	"github.com/dmitrijs2005/motiumsync/internal/netx"
	"github.com/google/uuid"
)

type ExpenseService interface {
	Add(ctx context.Context, e domain.Expense) (string, error)
	Edit(ctx context.Context, id string, fn func(e *domain.Expense)) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Item[domain.Expense], error)
	List(ctx context.Context) ([]Item[domain.Expense], error)
	ListByTrip(ctx context.Context, tripID string) ([]Item[domain.Expense], error)
	// UploadReceipt stores the receipt in object storage and links it to the
	// expense. It needs connectivity; the link itself syncs like any edit.
	UploadReceipt(ctx context.Context, id, contentType string, body []byte) (string, error)
}

type expenseService struct {
	core Core
	http *http.Client
}

func NewExpenseService(c Core, httpClient *http.Client) ExpenseService {
	return &expenseService{core: c, http: httpClient}
}

func (s *expenseService) Add(ctx context.Context, e domain.Expense) (string, error) {
	id := uuid.NewString()
	err := s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return create(ctx, tx, domain.KindExpense, id, e)
	})
	if err != nil {
		return "", fmt.Errorf("add expense: %w", err)
	}
	return id, nil
}

func (s *expenseService) Edit(ctx context.Context, id string, fn func(e *domain.Expense)) error {
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return edit(ctx, tx, domain.KindExpense, id, domain.KindExpense.DefaultPriority(), func(e *domain.Expense) error {
			fn(e)
			return nil
		})
	})
}

func (s *expenseService) Delete(ctx context.Context, id string) error {
	return s.core.Update(ctx, func(ctx context.Context, tx *core.Tx) error {
		return remove(ctx, tx, domain.KindExpense, id, domain.KindExpense.DefaultPriority())
	})
}

func (s *expenseService) Get(ctx context.Context, id string) (Item[domain.Expense], error) {
	return get[domain.Expense](ctx, s.core, domain.KindExpense, id)
}

func (s *expenseService) List(ctx context.Context) ([]Item[domain.Expense], error) {
	return list[domain.Expense](ctx, s.core, domain.KindExpense)
}

func (s *expenseService) ListByTrip(ctx context.Context, tripID string) ([]Item[domain.Expense], error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, it := range all {
		if it.Value.TripID == tripID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *expenseService) UploadReceipt(ctx context.Context, id, contentType string, body []byte) (string, error) {
	if _, err := s.core.Get(ctx, domain.KindExpense, id); err != nil {
		return "", err
	}

	receipt, err := s.core.Gateway().PresignReceipt(ctx, id, contentType)
	if err != nil {
		return "", fmt.Errorf("presign receipt: %w", err)
	}
	if err := netx.UploadToPresignedURL(ctx, s.http, receipt.PutURL, contentType, body); err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}

	err = s.Edit(ctx, id, func(e *domain.Expense) {
		e.ReceiptKey = receipt.Key
	})
	if err != nil {
		return "", fmt.Errorf("link receipt: %w", err)
	}
	return receipt.Key, nil
}

// ExpenseFieldMerge overlays the locally edited fields on the remote copy,
// so concurrent edits of different fields both survive.
func ExpenseFieldMerge(c conflict.Conflict) conflict.Verdict {
	pass := conflict.Verdict{Decision: conflict.Defer}
	if c.Pending == nil || c.Pending.Action != models.ActionUpdate || c.Remote.Deleted || len(c.Remote.Payload) == 0 {
		return pass
	}
	merged, err := domain.MergePayload(c.Remote.Payload, c.Pending.Payload)
	if err != nil {
		return pass
	}
	if err := domain.Validate(domain.KindExpense, merged); err != nil {
		return pass
	}
	if jsonEqual(merged, c.Remote.Payload) {
		return conflict.Verdict{Decision: conflict.AcceptRemote, Reason: "expense: remote already has local fields"}
	}
	return conflict.Verdict{Decision: conflict.Merge, Payload: json.RawMessage(merged), Reason: "expense: local fields over remote"}
}
