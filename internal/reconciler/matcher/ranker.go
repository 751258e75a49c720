package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/settlement-reconciler/internal/domain/settlement"
)

// Ranker scores from-events against their candidates concurrently on a bounded pool
type Ranker struct {
	pool   *ants.Pool
	logger *slog.Logger
}

func NewRanker(size int, logger *slog.Logger) (*Ranker, error) {
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		logger.Error("Candidate ranking panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create ranking pool: %w", err)
	}
	return &Ranker{pool: pool, logger: logger}, nil
}

// RankAll ranks the candidates of every from-event. Once ctx is cancelled no further
// from-events are scheduled and ctx.Err() is returned after in-flight work drains.
func (r *Ranker) RankAll(ctx context.Context, froms []*settlement.Event, ix *Index, params Params) (map[uuid.UUID][]Candidate, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		rankings = make(map[uuid.UUID][]Candidate, len(froms))
	)

	for _, f := range froms {
		if ctx.Err() != nil {
			break
		}
		f := f
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			ranked := Rank(f, ix, params)
			mu.Lock()
			rankings[f.ID] = ranked
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			r.logger.Error("Failed to submit ranking task", "event_id", f.ID.String(), "error", err)
			return nil, fmt.Errorf("failed to schedule candidate ranking: %w", err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rankings, nil
}

// Shutdown releases the pool's workers.
func (r *Ranker) Shutdown() {
	r.logger.Info("Shutting down ranking pool", "running_workers", r.Running())
	r.pool.Release()
}

// Running returns the number of running workers in the pool.
func (r *Ranker) Running() int {
	return r.pool.Running()
}

// Capacity returns the capacity of the pool.
func (r *Ranker) Capacity() int {
	return r.pool.Cap()
}
