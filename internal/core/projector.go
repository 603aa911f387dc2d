package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MarketSync/internal/event"
	"MarketSync/internal/observability"
	"MarketSync/internal/odds"
	"MarketSync/internal/persistence"
	"MarketSync/internal/resolver"
	"MarketSync/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxProjectionAttempts = 5
	retryBaseBackoff      = 50 * time.Millisecond
)

// Projector converts raw chain events into canonical state. Each event
// is applied as one transaction: entity resolution, canonical upsert,
// aggregate delta, processed marker, and cursor advance commit together
// or not at all.
type Projector struct {
	db       *sql.DB
	raw      *persistence.RawEventStore
	markets  *persistence.MarketStore
	bets     *persistence.BetStore
	cursors  *persistence.CursorStore
	resolver *resolver.Resolver
	idem     *IdempotencyChecker
	order    *OrderTracker
	notify   func(event.Event)
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewProjector(
	db *sql.DB,
	raw *persistence.RawEventStore,
	markets *persistence.MarketStore,
	bets *persistence.BetStore,
	cursors *persistence.CursorStore,
	res *resolver.Resolver,
	idem *IdempotencyChecker,
	metrics *observability.Metrics,
) *Projector {
	return &Projector{
		db:       db,
		raw:      raw,
		markets:  markets,
		bets:     bets,
		cursors:  cursors,
		resolver: res,
		idem:     idem,
		order:    NewOrderTracker(),
		metrics:  metrics,
		log:      observability.NewLogger("projector"),
	}
}

// SetNotify installs a fire-and-forget callback invoked after each
// successful projection.
func (p *Projector) SetNotify(fn func(event.Event)) {
	p.notify = fn
}

// ProcessEvent projects one raw event. Duplicates are silent no-ops.
// Unresolved references leave the event unprocessed for the retry
// sweep; malformed events and invariant violations quarantine it.
func (p *Projector) ProcessEvent(ctx context.Context, evt event.Event) error {
	et := evt.EventType().String()
	key := evt.ChainEventID()

	if p.idem.IsDuplicate(et, key) {
		p.metrics.ProjectionsRejected.WithLabelValues(et, "duplicate").Inc()
		return nil
	}

	if p.order.Observe(evt.Partition(), evt.BlockNumber()) {
		p.metrics.OutOfOrderEvents.WithLabelValues(et).Inc()
		p.log.Warn().
			Str("event_type", et).
			Str("chain_event_id", key).
			Str("partition", evt.Partition()).
			Int64("block", evt.BlockNumber()).
			Msg("event below partition high-water block")
	}

	start := time.Now()
	var err error
	for attempt := 0; attempt < maxProjectionAttempts; attempt++ {
		if attempt > 0 {
			p.metrics.ProjectionRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseBackoff << uint(attempt-1)):
			}
		}

		err = p.projectOnce(ctx, evt)
		if err == nil || !persistence.IsLockConflict(err) {
			break
		}
	}

	if err != nil {
		return p.classifyFailure(ctx, evt, err)
	}

	p.idem.MarkProcessed(et, key)
	p.metrics.ProjectionsApplied.WithLabelValues(et).Inc()
	p.metrics.ProjectionDuration.WithLabelValues(et).Observe(time.Since(start).Seconds())
	p.metrics.CursorBlock.WithLabelValues(evt.Contract()).Set(float64(evt.BlockNumber()))

	if p.notify != nil {
		p.notify(evt)
	}
	return nil
}

func (p *Projector) projectOnce(ctx context.Context, evt event.Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection tx: %w", err)
	}
	defer tx.Rollback()

	switch e := evt.(type) {
	case *event.MarketCreated:
		err = p.applyMarketCreated(ctx, tx, e)
	case *event.BetPlaced:
		err = p.applyBetPlaced(ctx, tx, e)
	case *event.MarketResolved:
		err = p.applyMarketResolved(ctx, tx, e)
	case *event.WinningsClaimed:
		err = p.applyWinningsClaimed(ctx, tx, e)
	default:
		err = &MalformedEventError{Reason: fmt.Sprintf("unsupported event %T", evt)}
	}
	if err != nil {
		return err
	}

	if err := p.raw.MarkProcessed(ctx, tx, evt); err != nil {
		return err
	}
	if err := p.cursors.Advance(ctx, tx, evt.Contract(), evt.BlockNumber()); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Projector) classifyFailure(ctx context.Context, evt event.Event, err error) error {
	et := evt.EventType().String()

	if IsUnresolved(err) {
		p.metrics.ProjectionsRejected.WithLabelValues(et, "unresolved").Inc()
		p.metrics.UnresolvedMarketRefs.Inc()
		p.log.Debug().
			Str("event_type", et).
			Str("chain_event_id", evt.ChainEventID()).
			Err(err).
			Msg("reference not yet projected, leaving event for retry")
		return err
	}

	var inv *state.InvariantViolationError
	if errors.As(err, &inv) {
		p.metrics.ProjectionsRejected.WithLabelValues(et, "invariant").Inc()
		p.metrics.InvariantViolations.Inc()
		p.quarantine(ctx, evt, err.Error())
		p.log.Error().
			Str("event_type", et).
			Str("chain_event_id", evt.ChainEventID()).
			Err(err).
			Msg("invariant violation, event quarantined")
		return err
	}

	if IsMalformed(err) {
		p.metrics.ProjectionsRejected.WithLabelValues(et, "malformed").Inc()
		p.quarantine(ctx, evt, err.Error())
		p.log.Error().
			Str("event_type", et).
			Str("chain_event_id", evt.ChainEventID()).
			Err(err).
			Msg("malformed event quarantined")
		return err
	}

	p.metrics.ProjectionsRejected.WithLabelValues(et, "error").Inc()
	p.log.Error().
		Str("event_type", et).
		Str("chain_event_id", evt.ChainEventID()).
		Err(err).
		Msg("projection failed")
	return err
}

func (p *Projector) quarantine(ctx context.Context, evt event.Event, reason string) {
	p.metrics.QuarantinedEvents.WithLabelValues(evt.EventType().String()).Inc()
	if qErr := p.raw.Quarantine(ctx, evt, reason); qErr != nil {
		p.log.Error().Err(qErr).Str("chain_event_id", evt.ChainEventID()).Msg("quarantine failed")
	}
}

// --- handlers ---

func (p *Projector) applyMarketCreated(ctx context.Context, tx persistence.DBTX, evt *event.MarketCreated) error {
	marketID, err := p.markets.UpsertFromCreation(ctx, tx, evt)
	if err != nil {
		return err
	}

	// Bets that raced ahead of this market wait with a null market
	// link; attach them now, in chain order, through the normal
	// creation-delta path.
	market, err := p.markets.LockByID(ctx, tx, marketID)
	if err != nil {
		return err
	}
	linked, err := p.linkOrphanBets(ctx, tx, market)
	if err != nil {
		return err
	}
	if linked > 0 {
		p.log.Info().
			Int64("chain_market_id", evt.ChainMarketID).
			Int("bets", linked).
			Msg("linked orphan bets to new market")
	}
	return nil
}

func (p *Projector) applyBetPlaced(ctx context.Context, tx persistence.DBTX, evt *event.BetPlaced) error {
	if evt.User == "" {
		return &MalformedEventError{Reason: "bet without user address"}
	}

	// Belt alongside the processed marker: a redelivered log whose
	// marker update was lost still cannot insert twice.
	existing, err := p.bets.GetByChainEventID(ctx, tx, evt.EventID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	userID, err := p.resolver.ResolveUser(ctx, tx, evt.User)
	if err != nil {
		return err
	}

	market, err := p.markets.LockByChainID(ctx, tx, evt.ChainMarketID)
	if err != nil {
		return err
	}

	bet := &state.Bet{
		ID:            uuid.New(),
		UserID:        userID,
		ChainMarketID: evt.ChainMarketID,
		ChainBetID:    evt.ChainBetID,
		ChainEventID:  evt.EventID,
		Position:      evt.Position,
		Amount:        evt.Amount,
		Shares:        evt.Shares,
		Status:        state.BetActive,
		Block:         evt.Block,
	}

	if market == nil {
		// Market not projected yet: record the bet with a null market
		// link and placeholder odds. The correlation pass fixes both
		// once the market exists; the aggregate delta is deferred with
		// it so the pool never counts an unlinked stake.
		bet.Odds = decimal.NewFromInt(1)
		if err := p.bets.Insert(ctx, tx, bet); err != nil {
			return err
		}
		p.metrics.UnresolvedMarketRefs.Inc()
		p.log.Warn().
			Int64("chain_market_id", evt.ChainMarketID).
			Str("chain_event_id", evt.EventID).
			Msg("bet recorded without market link")
		return nil
	}

	bet.Odds = odds.ForBet(evt.Position, evt.Amount, market.YesPoolSize, market.NoPoolSize)
	bet.MarketID = &market.ID

	if err := p.bets.Insert(ctx, tx, bet); err != nil {
		return err
	}

	// The single creation delta. Only this insertion and the deferred
	// orphan link may add a bet's stake to the pools.
	return p.markets.ApplyDelta(ctx, tx, market.ID, state.CreationDelta(evt.Position, evt.Amount, evt.Shares))
}

func (p *Projector) applyMarketResolved(ctx context.Context, tx persistence.DBTX, evt *event.MarketResolved) error {
	market, err := p.markets.LockByChainID(ctx, tx, evt.ChainMarketID)
	if err != nil {
		return err
	}
	if market == nil {
		return &UnresolvedReferenceError{Kind: "market", ID: evt.ChainMarketID}
	}

	if err := p.markets.Resolve(ctx, tx, market.ID, evt.Outcome, evt.BlockTimestamp); err != nil {
		return err
	}

	reclassified, err := p.bets.ReclassifyForResolution(ctx, tx, market.ID, evt.Outcome)
	if err != nil {
		return err
	}

	p.metrics.MarketsResolved.Inc()
	p.metrics.BetsReclassified.Add(float64(reclassified))
	p.log.Info().
		Int64("chain_market_id", evt.ChainMarketID).
		Bool("outcome", evt.Outcome).
		Int64("bets", reclassified).
		Msg("market resolved")
	return nil
}

func (p *Projector) applyWinningsClaimed(ctx context.Context, tx persistence.DBTX, evt *event.WinningsClaimed) error {
	if evt.Legacy() {
		return p.applyLegacyClaim(ctx, tx, evt)
	}
	if evt.ChainMarketID == nil {
		return &MalformedEventError{Reason: "claim without market or bet identifier"}
	}
	return p.applyPositionClaim(ctx, tx, evt)
}

// applyLegacyClaim settles the single bet named by the event's explicit
// bet identifier.
func (p *Projector) applyLegacyClaim(ctx context.Context, tx persistence.DBTX, evt *event.WinningsClaimed) error {
	bet, err := p.bets.LockByChainBetID(ctx, tx, *evt.ChainBetID)
	if err != nil {
		return err
	}
	if bet == nil {
		return &UnresolvedReferenceError{Kind: "bet", ID: *evt.ChainBetID}
	}

	if !state.Claimable(bet.Status) {
		// Redelivered claim or a claim against a lost bet: no-op.
		p.metrics.ClaimsSkipped.Inc()
		return nil
	}

	claimed, err := p.bets.MarkClaimed(ctx, tx, bet.ID, evt.WinningAmount)
	if err != nil {
		return err
	}
	if claimed {
		p.metrics.ClaimsApplied.WithLabelValues("legacy").Inc()
	} else {
		p.metrics.ClaimsSkipped.Inc()
	}
	return nil
}

// applyPositionClaim settles every eligible bet the user holds on the
// market, splitting the claimed amount across them by stake.
func (p *Projector) applyPositionClaim(ctx context.Context, tx persistence.DBTX, evt *event.WinningsClaimed) error {
	if evt.User == "" {
		return &MalformedEventError{Reason: "position claim without user address"}
	}

	market, err := p.markets.LockByChainID(ctx, tx, *evt.ChainMarketID)
	if err != nil {
		return err
	}
	if market == nil {
		return &UnresolvedReferenceError{Kind: "market", ID: *evt.ChainMarketID}
	}

	userID, err := p.resolver.ResolveUser(ctx, tx, evt.User)
	if err != nil {
		return err
	}

	candidates, err := p.bets.LockClaimable(ctx, tx, market.ID, userID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		p.metrics.ClaimsSkipped.Inc()
		return nil
	}

	stakes := make([]decimal.Decimal, len(candidates))
	for i, b := range candidates {
		stakes[i] = b.Amount
	}
	payouts := state.SplitPayout(evt.WinningAmount, stakes)

	for i, b := range candidates {
		claimed, err := p.bets.MarkClaimed(ctx, tx, b.ID, payouts[i])
		if err != nil {
			return err
		}
		if claimed {
			p.metrics.ClaimsApplied.WithLabelValues("position").Inc()
		}
	}
	return nil
}

// linkOrphanBets attaches every orphan bet for the locked market, in
// chain order, computing odds from the evolving pool exactly as if each
// bet had arrived after the market. Returns the number linked.
func (p *Projector) linkOrphanBets(ctx context.Context, tx persistence.DBTX, market *state.Market) (int, error) {
	if market == nil || market.ChainMarketID == nil {
		return 0, nil
	}

	orphans, err := p.bets.LockOrphansByChainMarket(ctx, tx, *market.ChainMarketID)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	yes, no := market.YesPoolSize, market.NoPoolSize
	linked := 0
	for _, b := range orphans {
		betOdds := odds.ForBet(b.Position, b.Amount, yes, no)
		ok, err := p.bets.LinkToMarket(ctx, tx, b.ID, market.ID, betOdds)
		if err != nil {
			return linked, err
		}
		if !ok {
			continue
		}
		if err := p.markets.ApplyDelta(ctx, tx, market.ID, state.CreationDelta(b.Position, b.Amount, b.Shares)); err != nil {
			return linked, err
		}
		if b.Position {
			yes = yes.Add(b.Amount)
		} else {
			no = no.Add(b.Amount)
		}
		linked++
		p.metrics.OrphanBetsLinked.Inc()
	}
	return linked, nil
}

// LinkOrphansSweep is the periodic correlation pass for orphan bets
// whose market arrived later (or on another node). Each market's batch
// links in its own transaction.
func (p *Projector) LinkOrphansSweep(ctx context.Context, limit int) (int, error) {
	orphans, err := p.bets.ListOrphans(ctx, p.db, limit)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	seen := make(map[int64]bool)
	total := 0
	for _, b := range orphans {
		if seen[b.ChainMarketID] {
			continue
		}
		seen[b.ChainMarketID] = true

		n, err := p.linkOrphansForChainMarket(ctx, b.ChainMarketID)
		if err != nil {
			p.log.Error().Err(err).Int64("chain_market_id", b.ChainMarketID).Msg("orphan link failed")
			continue
		}
		total += n
	}
	return total, nil
}

func (p *Projector) linkOrphansForChainMarket(ctx context.Context, chainMarketID int64) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	market, err := p.markets.LockByChainID(ctx, tx, chainMarketID)
	if err != nil {
		return 0, err
	}
	if market == nil {
		// Market still unseen; orphans stay queued.
		return 0, nil
	}

	n, err := p.linkOrphanBets(ctx, tx, market)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
