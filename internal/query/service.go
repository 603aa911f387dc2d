package query

import (
	"context"
	"database/sql"
	"fmt"

	"MarketSync/internal/persistence"
	"MarketSync/internal/state"

	"github.com/google/uuid"
)

// Service provides read-only access to the canonical tables. Writes go
// exclusively through the projector; nothing here takes row locks.
type Service struct {
	db      *sql.DB
	users   *persistence.UserStore
	markets *persistence.MarketStore
	bets    *persistence.BetStore
	cursors *persistence.CursorStore
	raw     *persistence.RawEventStore
	stats   *persistence.StatsStore
}

func NewService(
	db *sql.DB,
	users *persistence.UserStore,
	markets *persistence.MarketStore,
	bets *persistence.BetStore,
	cursors *persistence.CursorStore,
	raw *persistence.RawEventStore,
	stats *persistence.StatsStore,
) *Service {
	return &Service{
		db:      db,
		users:   users,
		markets: markets,
		bets:    bets,
		cursors: cursors,
		raw:     raw,
		stats:   stats,
	}
}

// GetMarket returns one market by engine id, nil when unknown.
func (s *Service) GetMarket(ctx context.Context, id uuid.UUID) (*MarketResponse, error) {
	m, err := s.markets.GetByID(ctx, s.db, id)
	if err != nil || m == nil {
		return nil, err
	}
	return marketResponse(m), nil
}

// GetMarketByChainID returns one market by its chain id, nil when the
// creation event has not been projected.
func (s *Service) GetMarketByChainID(ctx context.Context, chainMarketID int64) (*MarketResponse, error) {
	m, err := s.markets.GetByChainID(ctx, s.db, chainMarketID)
	if err != nil || m == nil {
		return nil, err
	}
	return marketResponse(m), nil
}

// GetUser returns the user for a chain address, nil when unseen.
func (s *Service) GetUser(ctx context.Context, address string) (*UserResponse, error) {
	u, err := s.users.GetByAddress(ctx, s.db, address)
	if err != nil || u == nil {
		return nil, err
	}
	return &UserResponse{ID: u.ID, Address: u.Address, CreatedAt: u.CreatedAt}, nil
}

// ListBetsByUser returns a user's bets, newest first.
func (s *Service) ListBetsByUser(ctx context.Context, address string, limit int) ([]BetResponse, error) {
	u, err := s.users.GetByAddress(ctx, s.db, address)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}

	bets, err := s.bets.ListByUser(ctx, s.db, u.ID, limit)
	if err != nil {
		return nil, err
	}
	return betResponses(bets), nil
}

// ListBetsByMarket returns every bet on a market in chain order.
func (s *Service) ListBetsByMarket(ctx context.Context, marketID uuid.UUID) ([]BetResponse, error) {
	bets, err := s.bets.ListByMarketOrdered(ctx, s.db, marketID)
	if err != nil {
		return nil, err
	}
	return betResponses(bets), nil
}

// SyncStatus reports cursor positions and raw-event backlogs.
func (s *Service) SyncStatus(ctx context.Context) (*SyncStatusResponse, error) {
	cursors, err := s.cursors.All(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("cursors: %w", err)
	}

	counts, err := s.raw.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("backlogs: %w", err)
	}

	resp := &SyncStatusResponse{}
	for _, c := range cursors {
		resp.Cursors = append(resp.Cursors, CursorStatus{
			ContractAddress: c.ContractAddress,
			LastBlock:       c.LastBlock,
			UpdatedAt:       c.UpdatedAt,
		})
	}
	for _, c := range counts {
		resp.Backlogs = append(resp.Backlogs, EventBacklog{
			EventType:   c.EventType,
			Total:       c.Total,
			Unprocessed: c.Total - c.Processed - c.Quarantined,
			Quarantined: c.Quarantined,
		})
	}
	return resp, nil
}

// PlatformStats returns the latest captured snapshot, nil when the
// first capture has not run yet.
func (s *Service) PlatformStats(ctx context.Context) (*PlatformStatsResponse, error) {
	snap, err := s.stats.Latest(ctx)
	if err != nil || snap == nil {
		return nil, err
	}
	return &PlatformStatsResponse{
		TotalMarkets:  snap.TotalMarkets,
		ActiveMarkets: snap.ActiveMarkets,
		TotalBets:     snap.TotalBets,
		TotalUsers:    snap.TotalUsers,
		TotalVolume:   snap.TotalVolume,
		CapturedAt:    snap.CapturedAt,
	}, nil
}

func marketResponse(m *state.Market) *MarketResponse {
	return &MarketResponse{
		ID:            m.ID,
		ChainMarketID: m.ChainMarketID,
		Question:      m.Question,
		EndDate:       m.EndDate,
		VaultAddress:  m.VaultAddress,
		Status:        string(m.Status),
		Result:        m.Result,
		ResolvedAt:    m.ResolvedAt,
		YesPoolSize:   m.YesPoolSize,
		NoPoolSize:    m.NoPoolSize,
		TotalPoolSize: m.TotalPoolSize,
		Volume:        m.Volume,
		Probability:   m.Probability,
		CountYes:      m.CountYes,
		CountNo:       m.CountNo,
		UpdatedAt:     m.UpdatedAt,
	}
}

func betResponses(bets []*state.Bet) []BetResponse {
	out := make([]BetResponse, 0, len(bets))
	for _, b := range bets {
		out = append(out, BetResponse{
			ID:            b.ID,
			UserID:        b.UserID,
			MarketID:      b.MarketID,
			ChainMarketID: b.ChainMarketID,
			ChainBetID:    b.ChainBetID,
			Position:      b.Position,
			Amount:        b.Amount,
			Shares:        b.Shares,
			Odds:          b.Odds,
			Status:        string(b.Status),
			Payout:        b.Payout,
			BlockNumber:   b.Block,
			CreatedAt:     b.CreatedAt,
		})
	}
	return out
}
