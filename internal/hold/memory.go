package hold

import (
	"context"
	"slices"
	"sync"
	"time"

	"retailpos/backend/internal/domain"
)

type Memory struct {
	mu   sync.Mutex
	byID map[string]domain.HeldSale
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]domain.HeldSale), now: time.Now}
}

func (m *Memory) Hold(_ context.Context, held domain.HeldSale) (domain.HeldSale, error) {
	held, err := prepare(held, m.now())
	if err != nil {
		return domain.HeldSale{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[held.ID] = held
	return cloneHeld(held), nil
}

func (m *Memory) List(_ context.Context, branchID string, terminalID string) ([]domain.HeldSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]domain.HeldSale, 0, len(m.byID))
	for _, held := range m.byID {
		if branchID != "" && held.BranchID != branchID {
			continue
		}
		if terminalID != "" && held.TerminalID != terminalID {
			continue
		}
		result = append(result, cloneHeld(held))
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *Memory) Resume(_ context.Context, branchID string, terminalID string, id string) (domain.HeldSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.byID[id]
	if !ok || !ownedBy(held, branchID, terminalID) {
		return domain.HeldSale{}, notFound(id)
	}
	delete(m.byID, id)
	return held, nil
}

func (m *Memory) Discard(ctx context.Context, branchID string, terminalID string, id string) error {
	_, err := m.Resume(ctx, branchID, terminalID, id)
	return err
}

func cloneHeld(src domain.HeldSale) domain.HeldSale {
	src.Lines = slices.Clone(src.Lines)
	return src
}
