package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketSync/internal/event"
)

// RawEventStore owns the append-only per-event-type fact tables. Rows
// are never mutated except for the processed/quarantine markers; the
// payload columns are the immutable record of what the chain emitted.
type RawEventStore struct {
	db *sql.DB
}

func NewRawEventStore(db *sql.DB) *RawEventStore {
	return &RawEventStore{db: db}
}

func tableFor(et event.EventType) string {
	switch et {
	case event.EventTypeMarketCreated:
		return "market_created_events"
	case event.EventTypeBetPlaced:
		return "bet_placed_events"
	case event.EventTypeMarketResolved:
		return "market_resolved_events"
	case event.EventTypeWinningsClaimed:
		return "winnings_claimed_events"
	default:
		return ""
	}
}

// RawTables lists every fact table, for status counts and test cleanup.
func RawTables() []string {
	return []string{
		"market_created_events",
		"bet_placed_events",
		"market_resolved_events",
		"winnings_claimed_events",
	}
}

// AppendBatch writes a mixed batch of events into their fact tables with
// multi-row INSERT ... ON CONFLICT DO NOTHING. Redelivered events are
// silently absorbed by the chain_event_id unique constraint; the return
// value counts rows actually written.
func (rs *RawEventStore) AppendBatch(ctx context.Context, q DBTX, events []event.Event) (int, error) {
	var created []*event.MarketCreated
	var bets []*event.BetPlaced
	var resolved []*event.MarketResolved
	var claims []*event.WinningsClaimed

	for _, e := range events {
		switch evt := e.(type) {
		case *event.MarketCreated:
			created = append(created, evt)
		case *event.BetPlaced:
			bets = append(bets, evt)
		case *event.MarketResolved:
			resolved = append(resolved, evt)
		case *event.WinningsClaimed:
			claims = append(claims, evt)
		default:
			return 0, fmt.Errorf("append: unsupported event %T", e)
		}
	}

	accepted := 0
	n, err := rs.appendMarketCreated(ctx, q, created)
	if err != nil {
		return accepted, err
	}
	accepted += n

	n, err = rs.appendBetPlaced(ctx, q, bets)
	if err != nil {
		return accepted, err
	}
	accepted += n

	n, err = rs.appendMarketResolved(ctx, q, resolved)
	if err != nil {
		return accepted, err
	}
	accepted += n

	n, err = rs.appendWinningsClaimed(ctx, q, claims)
	if err != nil {
		return accepted, err
	}
	accepted += n

	return accepted, nil
}

// Append writes one event, reporting whether it was new (true) or a
// duplicate no-op (false).
func (rs *RawEventStore) Append(ctx context.Context, evt event.Event) (bool, error) {
	n, err := rs.AppendBatch(ctx, rs.db, []event.Event{evt})
	return n > 0, err
}

func placeholderRows(rows, width int) string {
	parts := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		base := i * width
		ph := make([]string, width)
		for j := 0; j < width; j++ {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		parts = append(parts, "("+strings.Join(ph, ", ")+")")
	}
	return strings.Join(parts, ", ")
}

func (rs *RawEventStore) appendMarketCreated(ctx context.Context, q DBTX, events []*event.MarketCreated) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	query := `INSERT INTO market_created_events
		(chain_event_id, chain_market_id, question, end_time, betting_deadline,
		 vault_address, contract_address, block_number, block_timestamp, tx_hash)
		VALUES ` + placeholderRows(len(events), 10) + `
		ON CONFLICT (chain_event_id) DO NOTHING`

	args := make([]interface{}, 0, len(events)*10)
	for _, e := range events {
		args = append(args, e.EventID, e.ChainMarketID, e.Question, e.EndTime, e.Deadline,
			e.VaultAddress, e.ContractAddr, e.Block, e.BlockTimestamp, e.TxHash)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("append market_created batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (rs *RawEventStore) appendBetPlaced(ctx context.Context, q DBTX, events []*event.BetPlaced) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	query := `INSERT INTO bet_placed_events
		(chain_event_id, chain_market_id, user_address, position, amount, shares,
		 chain_bet_id, contract_address, block_number, block_timestamp, tx_hash)
		VALUES ` + placeholderRows(len(events), 11) + `
		ON CONFLICT (chain_event_id) DO NOTHING`

	args := make([]interface{}, 0, len(events)*11)
	for _, e := range events {
		var chainBetID interface{}
		if e.ChainBetID != nil {
			chainBetID = *e.ChainBetID
		}
		args = append(args, e.EventID, e.ChainMarketID, e.User, e.Position, e.Amount, e.Shares,
			chainBetID, e.ContractAddr, e.Block, e.BlockTimestamp, e.TxHash)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("append bet_placed batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (rs *RawEventStore) appendMarketResolved(ctx context.Context, q DBTX, events []*event.MarketResolved) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	query := `INSERT INTO market_resolved_events
		(chain_event_id, chain_market_id, outcome, contract_address, block_number, block_timestamp, tx_hash)
		VALUES ` + placeholderRows(len(events), 7) + `
		ON CONFLICT (chain_event_id) DO NOTHING`

	args := make([]interface{}, 0, len(events)*7)
	for _, e := range events {
		args = append(args, e.EventID, e.ChainMarketID, e.Outcome, e.ContractAddr,
			e.Block, e.BlockTimestamp, e.TxHash)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("append market_resolved batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (rs *RawEventStore) appendWinningsClaimed(ctx context.Context, q DBTX, events []*event.WinningsClaimed) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	query := `INSERT INTO winnings_claimed_events
		(chain_event_id, chain_market_id, chain_bet_id, user_address, winning_amount,
		 contract_address, block_number, block_timestamp, tx_hash)
		VALUES ` + placeholderRows(len(events), 9) + `
		ON CONFLICT (chain_event_id) DO NOTHING`

	args := make([]interface{}, 0, len(events)*9)
	for _, e := range events {
		var marketID, betID interface{}
		if e.ChainMarketID != nil {
			marketID = *e.ChainMarketID
		}
		if e.ChainBetID != nil {
			betID = *e.ChainBetID
		}
		args = append(args, e.EventID, marketID, betID, e.User, e.WinningAmount,
			e.ContractAddr, e.Block, e.BlockTimestamp, e.TxHash)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("append winnings_claimed batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PollUnprocessed returns unprojected, unquarantined events of one type
// in chain order. This drives startup recovery and the retry sweep for
// events whose first projection attempt failed transiently.
func (rs *RawEventStore) PollUnprocessed(ctx context.Context, et event.EventType, limit int) ([]event.Event, error) {
	switch et {
	case event.EventTypeMarketCreated:
		return rs.pollMarketCreated(ctx, limit)
	case event.EventTypeBetPlaced:
		return rs.pollBetPlaced(ctx, limit)
	case event.EventTypeMarketResolved:
		return rs.pollMarketResolved(ctx, limit)
	case event.EventTypeWinningsClaimed:
		return rs.pollWinningsClaimed(ctx, limit)
	default:
		return nil, fmt.Errorf("poll: unsupported event type %s", et)
	}
}

func (rs *RawEventStore) pollMarketCreated(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT chain_event_id, chain_market_id, question, end_time, betting_deadline,
		       vault_address, contract_address, block_number, block_timestamp, tx_hash
		FROM market_created_events
		WHERE processed_at IS NULL AND quarantined_reason IS NULL
		ORDER BY block_number, chain_event_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.MarketCreated
		if err := rows.Scan(&e.EventID, &e.ChainMarketID, &e.Question, &e.EndTime, &e.Deadline,
			&e.VaultAddress, &e.ContractAddr, &e.Block, &e.BlockTimestamp, &e.TxHash); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (rs *RawEventStore) pollBetPlaced(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT chain_event_id, chain_market_id, user_address, position, amount, shares,
		       chain_bet_id, contract_address, block_number, block_timestamp, tx_hash
		FROM bet_placed_events
		WHERE processed_at IS NULL AND quarantined_reason IS NULL
		ORDER BY block_number, chain_event_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.BetPlaced
		var chainBetID sql.NullInt64
		if err := rows.Scan(&e.EventID, &e.ChainMarketID, &e.User, &e.Position, &e.Amount, &e.Shares,
			&chainBetID, &e.ContractAddr, &e.Block, &e.BlockTimestamp, &e.TxHash); err != nil {
			return nil, err
		}
		if chainBetID.Valid {
			v := chainBetID.Int64
			e.ChainBetID = &v
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (rs *RawEventStore) pollMarketResolved(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT chain_event_id, chain_market_id, outcome, contract_address,
		       block_number, block_timestamp, tx_hash
		FROM market_resolved_events
		WHERE processed_at IS NULL AND quarantined_reason IS NULL
		ORDER BY block_number, chain_event_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.MarketResolved
		if err := rows.Scan(&e.EventID, &e.ChainMarketID, &e.Outcome, &e.ContractAddr,
			&e.Block, &e.BlockTimestamp, &e.TxHash); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (rs *RawEventStore) pollWinningsClaimed(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT chain_event_id, chain_market_id, chain_bet_id, user_address, winning_amount,
		       contract_address, block_number, block_timestamp, tx_hash
		FROM winnings_claimed_events
		WHERE processed_at IS NULL AND quarantined_reason IS NULL
		ORDER BY block_number, chain_event_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.WinningsClaimed
		var marketID, betID sql.NullInt64
		if err := rows.Scan(&e.EventID, &marketID, &betID, &e.User, &e.WinningAmount,
			&e.ContractAddr, &e.Block, &e.BlockTimestamp, &e.TxHash); err != nil {
			return nil, err
		}
		if marketID.Valid {
			v := marketID.Int64
			e.ChainMarketID = &v
		}
		if betID.Valid {
			v := betID.Int64
			e.ChainBetID = &v
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// MarkProcessed stamps the event's fact row inside the projection
// transaction, so the marker commits or rolls back with the state it
// describes.
func (rs *RawEventStore) MarkProcessed(ctx context.Context, q DBTX, evt event.Event) error {
	table := tableFor(evt.EventType())
	if table == "" {
		return fmt.Errorf("mark processed: unsupported event type %s", evt.EventType())
	}
	_, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET processed_at = NOW() WHERE chain_event_id = $1`, evt.ChainEventID())
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", evt.ChainEventID(), err)
	}
	return nil
}

// Quarantine flags a malformed or invariant-breaking event so the poll
// loop stops retrying it. The row itself is never deleted; operators
// inspect and clear the reason by hand.
func (rs *RawEventStore) Quarantine(ctx context.Context, evt event.Event, reason string) error {
	table := tableFor(evt.EventType())
	if table == "" {
		return fmt.Errorf("quarantine: unsupported event type %s", evt.EventType())
	}
	_, err := rs.db.ExecContext(ctx,
		`UPDATE `+table+` SET quarantined_reason = $2 WHERE chain_event_id = $1`,
		evt.ChainEventID(), reason)
	if err != nil {
		return fmt.Errorf("quarantine %s: %w", evt.ChainEventID(), err)
	}
	return nil
}

// IsProcessed is the cold tier of the idempotency check: has this
// (eventType, chainEventId) already been projected?
func (rs *RawEventStore) IsProcessed(eventType string, chainEventID string) (bool, error) {
	table := tableFor(event.ParseEventType(eventType))
	if table == "" {
		return false, fmt.Errorf("is processed: unsupported event type %s", eventType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := rs.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+table+` WHERE chain_event_id = $1 AND processed_at IS NOT NULL LIMIT 1`,
		chainEventID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentProcessedKeys returns up to limit composite idempotency keys per
// event type, most recently processed first, to warm the in-memory LRU
// after a restart.
func (rs *RawEventStore) RecentProcessedKeys(ctx context.Context, limit int) ([]string, error) {
	types := []event.EventType{
		event.EventTypeMarketCreated,
		event.EventTypeBetPlaced,
		event.EventTypeMarketResolved,
		event.EventTypeWinningsClaimed,
	}

	var keys []string
	for _, et := range types {
		rows, err := rs.db.QueryContext(ctx, `
			SELECT chain_event_id FROM `+tableFor(et)+`
			WHERE processed_at IS NOT NULL
			ORDER BY processed_at DESC
			LIMIT $1
		`, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			keys = append(keys, fmt.Sprintf("%s:%s", et, id))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return keys, nil
}

// TypeCounts summarizes one fact table for the sync status view.
type TypeCounts struct {
	EventType   string
	Total       int64
	Processed   int64
	Quarantined int64
}

// Counts returns per-type totals across all fact tables.
func (rs *RawEventStore) Counts(ctx context.Context) ([]TypeCounts, error) {
	types := []event.EventType{
		event.EventTypeMarketCreated,
		event.EventTypeBetPlaced,
		event.EventTypeMarketResolved,
		event.EventTypeWinningsClaimed,
	}

	var counts []TypeCounts
	for _, et := range types {
		var c TypeCounts
		c.EventType = et.String()
		err := rs.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COUNT(processed_at),
			       COUNT(quarantined_reason)
			FROM `+tableFor(et)).Scan(&c.Total, &c.Processed, &c.Quarantined)
		if err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, nil
}
