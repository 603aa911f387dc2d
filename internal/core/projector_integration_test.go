package core_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"MarketSync/internal/core"
	"MarketSync/internal/event"
	"MarketSync/internal/persistence"
	"MarketSync/internal/resolver"
	"MarketSync/internal/state"
	"MarketSync/internal/testutil"

	"github.com/shopspring/decimal"
)

// --- Test helpers ---

type projectorEnv struct {
	db        *sql.DB
	projector *core.Projector
	repairer  *core.Repairer
	raw       *persistence.RawEventStore
	markets   *persistence.MarketStore
	bets      *persistence.BetStore
	cursors   *persistence.CursorStore
}

func newProjectorEnv(t *testing.T) (*projectorEnv, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	if err := persistence.NewMigrator(db, "../../migrations").Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("apply migrations: %v", err)
	}

	metrics := testMetrics()
	raw := persistence.NewRawEventStore(db)
	users := persistence.NewUserStore()
	markets := persistence.NewMarketStore()
	bets := persistence.NewBetStore()
	cursors := persistence.NewCursorStore()
	res := resolver.New(users, markets, bets)
	idem := core.NewIdempotencyChecker(1024, raw, metrics)

	return &projectorEnv{
		db:        db,
		projector: core.NewProjector(db, raw, markets, bets, cursors, res, idem, metrics),
		repairer:  core.NewRepairer(db, markets, bets, metrics),
		raw:       raw,
		markets:   markets,
		bets:      bets,
		cursors:   cursors,
	}, cleanup
}

func (env *projectorEnv) process(t *testing.T, evt event.Event) {
	t.Helper()
	if err := env.projector.ProcessEvent(context.Background(), evt); err != nil {
		t.Fatalf("process %s %s: %v", evt.EventType(), evt.ChainEventID(), err)
	}
}

func (env *projectorEnv) market(t *testing.T, chainMarketID int64) *state.Market {
	t.Helper()
	m, err := env.markets.GetByChainID(context.Background(), env.db, chainMarketID)
	if err != nil {
		t.Fatalf("load market %d: %v", chainMarketID, err)
	}
	if m == nil {
		t.Fatalf("market %d not found", chainMarketID)
	}
	return m
}

func (env *projectorEnv) bet(t *testing.T, chainEventID string) *state.Bet {
	t.Helper()
	b, err := env.bets.GetByChainEventID(context.Background(), env.db, chainEventID)
	if err != nil {
		t.Fatalf("load bet %s: %v", chainEventID, err)
	}
	if b == nil {
		t.Fatalf("bet %s not found", chainEventID)
	}
	return b
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func blockTime(block int64) time.Time {
	return time.Unix(1700000000+block, 0).UTC()
}

func mustMarketCreated(chainMarketID, block int64) *event.MarketCreated {
	return &event.MarketCreated{
		EventID:        fmt.Sprintf("mc-%d-%d", chainMarketID, block),
		ChainMarketID:  chainMarketID,
		Question:       fmt.Sprintf("Will market %d settle YES?", chainMarketID),
		EndTime:        1800000000,
		Block:          block,
		BlockTimestamp: blockTime(block),
		TxHash:         fmt.Sprintf("0xtx-mc-%d-%d", chainMarketID, block),
	}
}

func mustBetPlaced(chainMarketID int64, user string, position bool, amount string, block int64) *event.BetPlaced {
	return &event.BetPlaced{
		EventID:        fmt.Sprintf("bp-%d-%s-%d", chainMarketID, user, block),
		ChainMarketID:  chainMarketID,
		User:           user,
		Position:       position,
		Amount:         d(amount),
		Block:          block,
		BlockTimestamp: blockTime(block),
		TxHash:         fmt.Sprintf("0xtx-bp-%d-%d", chainMarketID, block),
	}
}

func mustMarketResolved(chainMarketID int64, outcome bool, block int64) *event.MarketResolved {
	return &event.MarketResolved{
		EventID:        fmt.Sprintf("mr-%d-%d", chainMarketID, block),
		ChainMarketID:  chainMarketID,
		Outcome:        outcome,
		Block:          block,
		BlockTimestamp: blockTime(block),
		TxHash:         fmt.Sprintf("0xtx-mr-%d-%d", chainMarketID, block),
	}
}

func mustLegacyClaim(chainBetID int64, user, amount string, block int64) *event.WinningsClaimed {
	return &event.WinningsClaimed{
		EventID:        fmt.Sprintf("wc-bet%d-%d", chainBetID, block),
		ChainBetID:     &chainBetID,
		User:           user,
		WinningAmount:  d(amount),
		Block:          block,
		BlockTimestamp: blockTime(block),
		TxHash:         fmt.Sprintf("0xtx-wc-%d-%d", chainBetID, block),
	}
}

func mustPositionClaim(chainMarketID int64, user, amount string, block int64) *event.WinningsClaimed {
	return &event.WinningsClaimed{
		EventID:        fmt.Sprintf("wc-mkt%d-%s-%d", chainMarketID, user, block),
		ChainMarketID:  &chainMarketID,
		User:           user,
		WinningAmount:  d(amount),
		Block:          block,
		BlockTimestamp: blockTime(block),
		TxHash:         fmt.Sprintf("0xtx-wc-%d-%d", chainMarketID, block),
	}
}

// ============================================================================
// Test: Market Creation
// ============================================================================

func TestMarketCreated_InitializesAggregates(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(1, 10))

	m := env.market(t, 1)
	if m.Status != state.MarketActive {
		t.Errorf("status = %s, want active", m.Status)
	}
	if !m.YesPoolSize.IsZero() || !m.NoPoolSize.IsZero() || !m.TotalPoolSize.IsZero() || !m.Volume.IsZero() {
		t.Errorf("new market has non-zero pools: yes=%s no=%s total=%s volume=%s",
			m.YesPoolSize, m.NoPoolSize, m.TotalPoolSize, m.Volume)
	}
	if m.CountYes != 0 || m.CountNo != 0 {
		t.Errorf("new market has non-zero counts: %d/%d", m.CountYes, m.CountNo)
	}
	if m.Probability != 50 {
		t.Errorf("probability = %d, want 50", m.Probability)
	}
	if m.EndDate == nil || !m.EndDate.Equal(time.Unix(1800000000, 0).UTC()) {
		t.Errorf("end date = %v, want 2027-01-15T08:00:00Z", m.EndDate)
	}
}

func TestMarketCreated_Reprocess_KeepsAggregates(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(2, 10))
	env.process(t, mustBetPlaced(2, "0xaaa", true, "100", 11))

	// A second creation event for the same chain market (reorg replay or
	// producer backfill) may refresh descriptive fields but must never
	// re-zero the aggregates.
	dup := mustMarketCreated(2, 12)
	dup.Question = "Updated question"
	env.process(t, dup)

	m := env.market(t, 2)
	if m.Question != "Updated question" {
		t.Errorf("question = %q, want updated", m.Question)
	}
	if !m.YesPoolSize.Equal(d("100")) {
		t.Errorf("yes pool = %s, want 100 (aggregates re-initialized)", m.YesPoolSize)
	}
	if m.CountYes != 1 {
		t.Errorf("count yes = %d, want 1", m.CountYes)
	}
}

// ============================================================================
// Test: Bet Placement & Odds
// ============================================================================

func TestBetPlaced_FirstBetsScenario(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(3, 10))

	// Bet A: YES 100 on an empty market backs the whole YES side.
	betA := mustBetPlaced(3, "0xaaa", true, "100", 11)
	env.process(t, betA)
	if got := env.bet(t, betA.EventID).Odds; !got.Equal(d("1")) {
		t.Errorf("bet A odds = %s, want 1.00", got)
	}

	// Bet B: NO 50 against the 100/0 pool. 150/50 = 3.00.
	betB := mustBetPlaced(3, "0xbbb", false, "50", 12)
	env.process(t, betB)
	if got := env.bet(t, betB.EventID).Odds; !got.Equal(d("3")) {
		t.Errorf("bet B odds = %s, want 3.00", got)
	}

	m := env.market(t, 3)
	if !m.YesPoolSize.Equal(d("100")) || !m.NoPoolSize.Equal(d("50")) {
		t.Errorf("pools = %s/%s, want 100/50", m.YesPoolSize, m.NoPoolSize)
	}
	if !m.TotalPoolSize.Equal(d("150")) {
		t.Errorf("total pool = %s, want 150", m.TotalPoolSize)
	}
	if !m.Volume.Equal(m.TotalPoolSize) {
		t.Errorf("volume = %s, must equal total pool %s", m.Volume, m.TotalPoolSize)
	}
	if m.CountYes != 1 || m.CountNo != 1 {
		t.Errorf("counts = %d/%d, want 1/1", m.CountYes, m.CountNo)
	}
	if m.Probability != 67 {
		t.Errorf("probability = %d, want 67", m.Probability)
	}
}

func TestBetPlaced_OddsImmutableUnderLaterBets(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(4, 10))
	betA := mustBetPlaced(4, "0xaaa", true, "100", 11)
	env.process(t, betA)
	before := env.bet(t, betA.EventID).Odds

	env.process(t, mustBetPlaced(4, "0xbbb", false, "300", 12))
	env.process(t, mustBetPlaced(4, "0xccc", true, "25", 13))

	if after := env.bet(t, betA.EventID).Odds; !after.Equal(before) {
		t.Errorf("bet A odds moved from %s to %s after later bets", before, after)
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestReprocessedBet_NoStateChange(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(5, 10))
	bet := mustBetPlaced(5, "0xaaa", true, "100", 11)
	env.process(t, bet)
	env.process(t, bet)

	m := env.market(t, 5)
	if !m.YesPoolSize.Equal(d("100")) {
		t.Errorf("yes pool = %s after redelivery, want 100", m.YesPoolSize)
	}
	if m.CountYes != 1 {
		t.Errorf("count yes = %d after redelivery, want 1", m.CountYes)
	}
	n, err := env.bets.Count(context.Background(), env.db)
	if err != nil {
		t.Fatalf("count bets: %v", err)
	}
	if n != 1 {
		t.Errorf("bet rows = %d after redelivery, want 1", n)
	}
}

// ============================================================================
// Test: Resolution
// ============================================================================

func TestMarketResolved_ReclassifiesBets(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(6, 10))
	betA := mustBetPlaced(6, "0xaaa", true, "100", 11)
	betB := mustBetPlaced(6, "0xbbb", false, "50", 12)
	env.process(t, betA)
	env.process(t, betB)

	env.process(t, mustMarketResolved(6, true, 20))

	m := env.market(t, 6)
	if m.Status != state.MarketResolved {
		t.Errorf("status = %s, want resolved", m.Status)
	}
	if m.Result == nil || *m.Result != true {
		t.Errorf("result = %v, want true", m.Result)
	}
	if got := env.bet(t, betA.EventID).Status; got != state.BetWon {
		t.Errorf("YES bet status = %s, want won", got)
	}
	if got := env.bet(t, betB.EventID).Status; got != state.BetLost {
		t.Errorf("NO bet status = %s, want lost", got)
	}
}

func TestMarketResolved_BeforeMarket_LeftForRetry(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	err := env.projector.ProcessEvent(context.Background(), mustMarketResolved(7, true, 20))
	if !core.IsUnresolved(err) {
		t.Fatalf("resolution before market: got %v, want unresolved reference", err)
	}
}

// ============================================================================
// Test: Claims
// ============================================================================

func TestLegacyClaim_SettlesSingleBet(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(8, 10))
	bet := mustBetPlaced(8, "0xaaa", true, "100", 11)
	chainBetID := int64(7)
	bet.ChainBetID = &chainBetID
	env.process(t, bet)
	env.process(t, mustMarketResolved(8, true, 20))

	env.process(t, mustLegacyClaim(7, "0xaaa", "140", 21))

	b := env.bet(t, bet.EventID)
	if b.Status != state.BetClaimed {
		t.Errorf("status = %s, want claimed", b.Status)
	}
	if !b.Payout.Valid || !b.Payout.Decimal.Equal(d("140")) {
		t.Errorf("payout = %v, want 140", b.Payout)
	}

	// Redelivered claim under a fresh event id is a no-op.
	env.process(t, mustLegacyClaim(7, "0xaaa", "140", 22))
	b = env.bet(t, bet.EventID)
	if !b.Payout.Decimal.Equal(d("140")) {
		t.Errorf("payout = %s after redelivery, want 140", b.Payout.Decimal)
	}
}

func TestLegacyClaim_LostBet_Ignored(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(9, 10))
	bet := mustBetPlaced(9, "0xaaa", false, "50", 11)
	chainBetID := int64(8)
	bet.ChainBetID = &chainBetID
	env.process(t, bet)
	env.process(t, mustMarketResolved(9, true, 20))

	env.process(t, mustLegacyClaim(8, "0xaaa", "90", 21))

	b := env.bet(t, bet.EventID)
	if b.Status != state.BetLost {
		t.Errorf("status = %s, lost bet must stay lost", b.Status)
	}
	if b.Payout.Valid {
		t.Errorf("payout = %s, lost bet must never pay out", b.Payout.Decimal)
	}
}

func TestPositionClaim_SplitsAcrossBets(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(10, 10))
	betA := mustBetPlaced(10, "0xaaa", true, "100", 11)
	betB := mustBetPlaced(10, "0xaaa", true, "50", 12)
	env.process(t, betA)
	env.process(t, betB)
	env.process(t, mustMarketResolved(10, true, 20))

	// The vault generation emits one aggregate amount per (market, user);
	// it splits across the user's bets by stake: 300 * 100/150 and the rest.
	env.process(t, mustPositionClaim(10, "0xaaa", "300", 21))

	a := env.bet(t, betA.EventID)
	b := env.bet(t, betB.EventID)
	if a.Status != state.BetClaimed || b.Status != state.BetClaimed {
		t.Fatalf("statuses = %s/%s, want claimed/claimed", a.Status, b.Status)
	}
	if !a.Payout.Decimal.Equal(d("200")) {
		t.Errorf("bet A payout = %s, want 200", a.Payout.Decimal)
	}
	if !b.Payout.Decimal.Equal(d("100")) {
		t.Errorf("bet B payout = %s, want 100", b.Payout.Decimal)
	}
	if !a.Payout.Decimal.Add(b.Payout.Decimal).Equal(d("300")) {
		t.Errorf("payouts sum to %s, want the claimed 300", a.Payout.Decimal.Add(b.Payout.Decimal))
	}
}

// ============================================================================
// Test: Bet-Before-Market Race
// ============================================================================

func TestOrphanBets_LinkedOnMarketCreation(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	betA := mustBetPlaced(55, "0xaaa", true, "100", 10)
	betB := mustBetPlaced(55, "0xbbb", false, "50", 11)
	env.process(t, betA)
	env.process(t, betB)

	// Both recorded without a market link, aggregates untouched.
	if got := env.bet(t, betA.EventID); got.MarketID != nil {
		t.Fatalf("bet A linked to %s before its market exists", got.MarketID)
	}

	env.process(t, mustMarketCreated(55, 12))

	m := env.market(t, 55)
	if !m.YesPoolSize.Equal(d("100")) || !m.NoPoolSize.Equal(d("50")) {
		t.Errorf("pools = %s/%s after linking, want 100/50", m.YesPoolSize, m.NoPoolSize)
	}
	if m.CountYes != 1 || m.CountNo != 1 {
		t.Errorf("counts = %d/%d after linking, want 1/1", m.CountYes, m.CountNo)
	}

	// Odds replay the chain order, as if each bet had arrived in time.
	a := env.bet(t, betA.EventID)
	b := env.bet(t, betB.EventID)
	if a.MarketID == nil || b.MarketID == nil {
		t.Fatal("orphans not linked after market creation")
	}
	if !a.Odds.Equal(d("1")) {
		t.Errorf("bet A odds = %s, want 1.00", a.Odds)
	}
	if !b.Odds.Equal(d("3")) {
		t.Errorf("bet B odds = %s, want 3.00", b.Odds)
	}
}

// ============================================================================
// Test: Sync Cursor
// ============================================================================

func TestCursorAdvancesMonotonically(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(12, 10))
	env.process(t, mustMarketResolved(12, true, 30))

	last, err := env.cursors.Get(context.Background(), env.db, event.ContractMarket)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if last != 30 {
		t.Errorf("cursor = %d, want 30", last)
	}

	// A straggler from an earlier block still projects but must not pull
	// the cursor backward.
	env.process(t, mustMarketCreated(13, 15))
	last, err = env.cursors.Get(context.Background(), env.db, event.ContractMarket)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if last != 30 {
		t.Errorf("cursor = %d after older block, want 30", last)
	}
}

// ============================================================================
// Test: Startup Drain
// ============================================================================

func TestDrainUnprocessed_ProjectsBacklog(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	ctx := context.Background()

	// Backlog written straight to the fact tables, bet before market,
	// the way a crashed node would leave them.
	bet := mustBetPlaced(77, "0xaaa", true, "100", 6)
	if _, err := env.raw.Append(ctx, bet); err != nil {
		t.Fatalf("append raw bet: %v", err)
	}
	if _, err := env.raw.Append(ctx, mustMarketCreated(77, 5)); err != nil {
		t.Fatalf("append raw market: %v", err)
	}

	n, err := env.projector.DrainUnprocessed(ctx, 100)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 2 {
		t.Errorf("drained %d events, want 2", n)
	}

	m := env.market(t, 77)
	if !m.YesPoolSize.Equal(d("100")) {
		t.Errorf("yes pool = %s after drain, want 100", m.YesPoolSize)
	}
	if b := env.bet(t, bet.EventID); b.MarketID == nil {
		t.Error("drained bet not linked to its market")
	}

	// Nothing left; a second drain is a no-op.
	n, err = env.projector.DrainUnprocessed(ctx, 100)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if n != 0 {
		t.Errorf("second drain projected %d events, want 0", n)
	}
}

// ============================================================================
// Test: Repair Paths
// ============================================================================

func TestBackfillOdds_RewritesCorruptedRow(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(20, 10))
	betA := mustBetPlaced(20, "0xaaa", true, "100", 11)
	betB := mustBetPlaced(20, "0xbbb", false, "50", 12)
	env.process(t, betA)
	env.process(t, betB)

	if _, err := env.db.Exec(`UPDATE bets SET odds = 1 WHERE chain_event_id = $1`, betB.EventID); err != nil {
		t.Fatalf("corrupt odds: %v", err)
	}

	fixed, err := env.repairer.BackfillOdds(context.Background(), env.market(t, 20).ID)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if fixed != 1 {
		t.Errorf("backfill rewrote %d bets, want 1", fixed)
	}
	if got := env.bet(t, betB.EventID).Odds; !got.Equal(d("3")) {
		t.Errorf("bet B odds = %s after backfill, want 3.00", got)
	}
}

func TestRebuildAggregates_RecoversFromDrift(t *testing.T) {
	env, cleanup := newProjectorEnv(t)
	defer cleanup()

	env.process(t, mustMarketCreated(21, 10))
	env.process(t, mustBetPlaced(21, "0xaaa", true, "100", 11))
	env.process(t, mustBetPlaced(21, "0xbbb", false, "50", 12))
	marketID := env.market(t, 21).ID

	if _, err := env.db.Exec(`UPDATE markets SET yes_pool_size = 999 WHERE id = $1`, marketID); err != nil {
		t.Fatalf("corrupt pools: %v", err)
	}

	drifted, err := env.repairer.VerifyAggregates(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(drifted) != 1 || drifted[0] != marketID {
		t.Fatalf("drift report = %v, want [%s]", drifted, marketID)
	}

	if err := env.repairer.RebuildMarketAggregates(context.Background(), marketID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	m := env.market(t, 21)
	if !m.YesPoolSize.Equal(d("100")) || !m.TotalPoolSize.Equal(d("150")) || !m.Volume.Equal(d("150")) {
		t.Errorf("aggregates = yes %s total %s volume %s after rebuild, want 100/150/150",
			m.YesPoolSize, m.TotalPoolSize, m.Volume)
	}

	drifted, err = env.repairer.VerifyAggregates(context.Background())
	if err != nil {
		t.Fatalf("verify after rebuild: %v", err)
	}
	if len(drifted) != 0 {
		t.Errorf("drift report = %v after rebuild, want empty", drifted)
	}
}
