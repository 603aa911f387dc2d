package core

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"

	"MarketSync/internal/event"
	"MarketSync/internal/observability"
	"MarketSync/internal/resolver"

	"github.com/rs/zerolog"
)

// Dispatcher fans stored events out to a fixed pool of projection
// workers. Every event for one market hashes to the same worker, so
// projections for a market apply serially; the row lock inside the
// projection transaction is the second line of defense.
type Dispatcher struct {
	projector *Projector
	db        *sql.DB
	resolver  *resolver.Resolver
	queues    []chan event.Event
	wg        sync.WaitGroup
	log       zerolog.Logger
}

func NewDispatcher(projector *Projector, db *sql.DB, res *resolver.Resolver, workers, queueDepth int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	queues := make([]chan event.Event, workers)
	for i := range queues {
		queues[i] = make(chan event.Event, queueDepth)
	}
	return &Dispatcher{
		projector: projector,
		db:        db,
		resolver:  res,
		queues:    queues,
		log:       observability.NewLogger("dispatcher"),
	}
}

// Start launches the workers. They run until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, q := range d.queues {
		d.wg.Add(1)
		go func(worker int, queue <-chan event.Event) {
			defer d.wg.Done()
			for evt := range queue {
				if err := d.projector.ProcessEvent(ctx, evt); err != nil {
					// Already classified and counted by the projector;
					// unresolved references retry via the poll sweep.
					d.log.Debug().
						Int("worker", worker).
						Str("chain_event_id", evt.ChainEventID()).
						Err(err).
						Msg("projection deferred or failed")
				}
			}
		}(i, q)
	}
}

// Enqueue routes an event to its partition's worker, blocking when the
// queue is full so ingestion backpressures instead of dropping.
func (d *Dispatcher) Enqueue(ctx context.Context, evt event.Event) error {
	idx := fnv32(d.routePartition(ctx, evt)) % uint32(len(d.queues))
	select {
	case d.queues[idx] <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// routePartition refines the event's own partition for legacy claims:
// the claim names only a bet id, so the market comes from the bet row.
// Unprojected bets fall back to the global partition; the projector
// defers the claim there and the poll sweep retries it.
func (d *Dispatcher) routePartition(ctx context.Context, evt event.Event) string {
	claim, ok := evt.(*event.WinningsClaimed)
	if !ok || !claim.Legacy() || claim.ChainMarketID != nil {
		return evt.Partition()
	}

	chainMarketID, found, err := d.resolver.ResolveMarketForBet(ctx, d.db, *claim.ChainBetID)
	if err != nil || !found {
		return event.PartitionGlobal
	}
	return event.PartitionForMarket(chainMarketID)
}

// Close stops accepting events and waits for the queues to drain.
func (d *Dispatcher) Close() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
