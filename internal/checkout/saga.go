package checkout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"retailpos/backend/internal/store"
)

// Step is one write of a multi-sink operation together with the write that
// reverses it. Undo may be nil for the final step.
type Step struct {
	Stage string
	Do    func(ctx context.Context, tx store.Sinks) error
	Undo  func(ctx context.Context, tx store.Sinks) error
}

// StepError names the stage at which a saga stopped.
type StepError struct {
	Stage string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RunSaga applies steps in order inside repo.WithinTx. When a step fails the
// completed steps are undone in reverse order before the transaction is
// rolled back, so stores without real rollback still end where they started.
func RunSaga(ctx context.Context, repo store.Repository, logger *zap.Logger, steps []Step) error {
	return repo.WithinTx(ctx, func(ctx context.Context, tx store.Sinks) error {
		for i, step := range steps {
			if err := step.Do(ctx, tx); err != nil {
				compensate(ctx, tx, logger, steps[:i], step.Stage)
				return &StepError{Stage: step.Stage, Err: err}
			}
		}
		return nil
	})
}

func compensate(ctx context.Context, tx store.Sinks, logger *zap.Logger, done []Step, reason string) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx, tx); err != nil {
			logger.Error("saga compensation failed",
				zap.String("stage", step.Stage),
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}
}

// StockStep moves delta units of a variant at a branch.
func StockStep(variantID string, branchID string, delta int) Step {
	return Step{
		Stage: "stock",
		Do: func(ctx context.Context, tx store.Sinks) error {
			return tx.AdjustStock(ctx, variantID, branchID, delta)
		},
		Undo: func(ctx context.Context, tx store.Sinks) error {
			return tx.AdjustStock(ctx, variantID, branchID, -delta)
		},
	}
}

// CreditStep adds deltaCents to a customer's running balance.
func CreditStep(customerID string, deltaCents int64) Step {
	return Step{
		Stage: "credit",
		Do: func(ctx context.Context, tx store.Sinks) error {
			return tx.AdjustCustomerCredit(ctx, customerID, deltaCents)
		},
		Undo: func(ctx context.Context, tx store.Sinks) error {
			return tx.AdjustCustomerCredit(ctx, customerID, -deltaCents)
		},
	}
}
