package core

import (
	"context"

	"MarketSync/internal/event"
)

// drainOrder projects markets before the events that reference them,
// which clears most unresolved references in a single pass.
var drainOrder = []event.EventType{
	event.EventTypeMarketCreated,
	event.EventTypeBetPlaced,
	event.EventTypeMarketResolved,
	event.EventTypeWinningsClaimed,
}

// DrainUnprocessed replays every stored-but-unprojected event through
// the projector, type by type in dependency order. Used at startup to
// recover from a crash between the durable write and the projection,
// and periodically to retry events deferred on unresolved references.
// Returns the number of events that projected successfully.
func (p *Projector) DrainUnprocessed(ctx context.Context, pageSize int) (int, error) {
	applied := 0
	for _, et := range drainOrder {
		for {
			if err := ctx.Err(); err != nil {
				return applied, err
			}

			events, err := p.raw.PollUnprocessed(ctx, et, pageSize)
			if err != nil {
				return applied, err
			}
			if len(events) == 0 {
				break
			}

			progressed := 0
			for _, evt := range events {
				if err := p.ProcessEvent(ctx, evt); err == nil {
					progressed++
				}
			}
			applied += progressed

			// A full page of deferrals means the rest of this type is
			// blocked on references a later sweep will satisfy.
			if progressed == 0 {
				break
			}
			if len(events) < pageSize {
				break
			}
		}
	}

	if applied > 0 {
		p.log.Info().Int("events", applied).Msg("drained unprocessed events")
	}
	return applied, nil
}
