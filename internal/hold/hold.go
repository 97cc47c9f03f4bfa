// Package hold keeps suspended carts per terminal until they are resumed or
// discarded.
package hold

import (
	"context"
	"slices"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/xid"
)

type Store interface {
	// Hold saves a snapshot and returns it with its id and timestamp set.
	// The live cart is left to the caller.
	Hold(ctx context.Context, held domain.HeldSale) (domain.HeldSale, error)
	List(ctx context.Context, branchID string, terminalID string) ([]domain.HeldSale, error)
	// Resume removes the snapshot and returns it. A snapshot can be resumed
	// at most once, and only from the branch and terminal that held it. A
	// snapshot owned by another terminal reports not found.
	Resume(ctx context.Context, branchID string, terminalID string, id string) (domain.HeldSale, error)
	Discard(ctx context.Context, branchID string, terminalID string, id string) error
}

func prepare(held domain.HeldSale, now time.Time) (domain.HeldSale, error) {
	if len(held.Lines) == 0 {
		return domain.HeldSale{}, domain.BusinessRulef("cannot hold an empty cart")
	}
	if strings.TrimSpace(held.BranchID) == "" || strings.TrimSpace(held.TerminalID) == "" {
		return domain.HeldSale{}, domain.Validationf("held sale requires branch and terminal")
	}
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = now.UTC()
	}
	held.Note = strings.TrimSpace(held.Note)
	held.Lines = slices.Clone(held.Lines)
	return held, nil
}

func ownedBy(held domain.HeldSale, branchID string, terminalID string) bool {
	return held.BranchID == branchID && held.TerminalID == terminalID
}

func notFound(id string) error {
	return domain.NotFoundf("held sale %s", id)
}

func sortNewestFirst(items []domain.HeldSale) {
	slices.SortFunc(items, func(a, b domain.HeldSale) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.HeldAt.After(b.HeldAt) {
			return -1
		}
		return 1
	})
}
