// Package resolver maps chain-native identifiers (addresses, numeric
// market and bet ids) onto engine-assigned entity ids.
package resolver

import (
	"context"

	"MarketSync/internal/persistence"
	"MarketSync/internal/state"

	"github.com/google/uuid"
)

// Resolver performs entity resolution inside the caller's transaction.
type Resolver struct {
	users   *persistence.UserStore
	markets *persistence.MarketStore
	bets    *persistence.BetStore
}

func New(users *persistence.UserStore, markets *persistence.MarketStore, bets *persistence.BetStore) *Resolver {
	return &Resolver{users: users, markets: markets, bets: bets}
}

// ResolveUser returns the user id for a chain address, creating the user
// on first sight. Safe under concurrent first-sight of one address: the
// underlying store inserts against the unique address constraint and
// re-fetches, so both racers end up with the same id.
func (r *Resolver) ResolveUser(ctx context.Context, q persistence.DBTX, address string) (uuid.UUID, error) {
	return r.users.InsertOrFetch(ctx, q, address)
}

// ResolveMarket is a pure lookup: nil when the market-created event has
// not been projected yet. Callers tolerate that (bet-before-market
// races record the bet with a null market link).
func (r *Resolver) ResolveMarket(ctx context.Context, q persistence.DBTX, chainMarketID int64) (*state.Market, error) {
	return r.markets.GetByChainID(ctx, q, chainMarketID)
}

// ResolveMarketForBet finds the chain market id a legacy claim's bet
// belongs to, for partition routing. Reports false when the bet has not
// been projected yet.
func (r *Resolver) ResolveMarketForBet(ctx context.Context, q persistence.DBTX, chainBetID int64) (int64, bool, error) {
	return r.bets.ChainMarketIDForBet(ctx, q, chainBetID)
}
