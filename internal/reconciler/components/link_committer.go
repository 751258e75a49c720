package components

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/settlement-reconciler/internal/domain/reconciliation"
	"github.com/settlement-reconciler/internal/platform/persistence"
	"github.com/settlement-reconciler/internal/reconciler/matcher"
	"github.com/settlement-reconciler/internal/reconciler/service"
)

type LinkCommitterImpl struct {
	db         persistence.TxRunner
	links      reconciliation.LinkRepository
	exceptions reconciliation.ExceptionRepository
	logger     *slog.Logger
}

func NewLinkCommitter(db persistence.TxRunner, links reconciliation.LinkRepository, exceptions reconciliation.ExceptionRepository,
	logger *slog.Logger) service.LinkCommitter {
	return &LinkCommitterImpl{
		db:         db,
		links:      links,
		exceptions: exceptions,
		logger:     logger,
	}
}

// Commit applies one decision in its own transaction so that a crash mid-pass leaves every
// earlier decision durable and the later ones for the next pass.
func (c *LinkCommitterImpl) Commit(ctx context.Context, tenantID string, decision matcher.Decision) (*reconciliation.Link, error) {
	logger := c.logger.With(
		"tenant_id", tenantID,
		"stage_pair", string(decision.Pair),
		"from_event_id", decision.From.ID.String(),
		"decision", decision.Kind.String(),
	)

	var created *reconciliation.Link
	err := c.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		links := c.links.WithTx(tx)
		exceptions := c.exceptions.WithTx(tx)
		now := time.Now().UTC()

		switch decision.Kind {
		case matcher.DecisionLink, matcher.DecisionSupersede:
			link, err := reconciliation.NewLink(tenantID, decision.Pair, decision.From.ID, decision.To.ID, decision.Confidence)
			if err != nil {
				return err
			}
			if decision.Replaces != nil {
				if err := links.Invalidate(ctx, tenantID, decision.Replaces.ID, &link.ID, now); err != nil {
					return err
				}
			}
			if err := links.Create(ctx, link); err != nil {
				return err
			}
			if err := exceptions.Resolve(ctx, tenantID, decision.Pair, decision.From.ID, now); err != nil {
				return err
			}
			created = link

		case matcher.DecisionAmbiguous:
			ex := reconciliation.NewAmbiguityException(tenantID, decision.Pair, decision.From.ID, decision.Candidates)
			if err := exceptions.Save(ctx, ex); err != nil {
				return err
			}

		default:
			// Keep and unresolved only write to close an exception that no longer holds.
			if decision.Exception == nil {
				return nil
			}
			if err := exceptions.Resolve(ctx, tenantID, decision.Pair, decision.From.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to commit reconciliation decision", "error", err)
		return nil, fmt.Errorf("failed to commit %s decision: %w", decision.Kind, err)
	}

	if created != nil {
		logger.Debug("Reconciliation link committed",
			"link_id", created.ID.String(),
			"to_event_id", created.ToEventID.String(),
			"match_confidence", string(created.Confidence),
		)
	}
	return created, nil
}
