package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradepulse/pkg/contracts/domain"
)

const tradeSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	open_date        TEXT,
	close_date       TEXT,
	entry_time       TIMESTAMP,
	exit_time        TIMESTAMP,
	side             TEXT,
	status           TEXT,
	net_pnl          REAL,
	gross_pnl        REAL,
	commissions      REAL,
	contracts_traded INTEGER,
	tags             TEXT,
	model            TEXT,
	rating           INTEGER,
	stop_loss        REAL,
	profit_target    REAL,
	created_at       TIMESTAMP
);
CREATE TABLE IF NOT EXISTS trade_metadata (
	trade_id       TEXT PRIMARY KEY,
	profit_target  REAL,
	stop_loss      REAL,
	selected_model TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_open_date ON trades(open_date);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
`

// SQLiteStore is a TradeStore and MetadataStore backed by a local
// sqlite database. Mutation notifications behave like MemoryStore's.
type SQLiteStore struct {
	db   *sql.DB
	subs []func()
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open trade db: %w", err)
	}
	if _, err := db.Exec(tradeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply trade schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetAllTrades loads every stored trade ordered by open date.
func (s *SQLiteStore) GetAllTrades(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, open_date, close_date, entry_time, exit_time,
		       side, status, net_pnl, gross_pnl, commissions,
		       contracts_traded, tags, model, rating, stop_loss,
		       profit_target, created_at
		FROM trades ORDER BY open_date, id`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// AddTrades inserts trades in one transaction, upserting on ID so a
// re-imported file does not duplicate rows.
func (s *SQLiteStore) AddTrades(ctx context.Context, trades []domain.Trade) error {
	if err := s.insert(ctx, trades); err != nil {
		return err
	}
	notify(s.subs)
	return nil
}

// ReplaceTrades clears the table and inserts the new set in one
// transaction.
func (s *SQLiteStore) ReplaceTrades(ctx context.Context, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades`); err != nil {
		return fmt.Errorf("clear trades: %w", err)
	}
	for _, t := range trades {
		if err := insertTrade(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}

	notify(s.subs)
	return nil
}

// GetMetadata loads the risk metadata row for a trade, if present.
func (s *SQLiteStore) GetMetadata(ctx context.Context, tradeID string) (*domain.RiskMetadata, error) {
	var meta domain.RiskMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT profit_target, stop_loss, selected_model
		FROM trade_metadata WHERE trade_id = ?`, tradeID).
		Scan(&meta.ProfitTarget, &meta.StopLoss, &meta.SelectedModel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	return &meta, nil
}

// SetMetadata upserts the risk metadata row for a trade.
func (s *SQLiteStore) SetMetadata(ctx context.Context, tradeID string, meta domain.RiskMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_metadata (trade_id, profit_target, stop_loss, selected_model)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET
			profit_target = excluded.profit_target,
			stop_loss = excluded.stop_loss,
			selected_model = excluded.selected_model`,
		tradeID, meta.ProfitTarget, meta.StopLoss, meta.SelectedModel)
	if err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}
	notify(s.subs)
	return nil
}

// Subscribe registers fn to run after every mutation.
func (s *SQLiteStore) Subscribe(fn func()) {
	s.subs = append(s.subs, fn)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) insert(ctx context.Context, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	for _, t := range trades {
		if err := insertTrade(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func insertTrade(ctx context.Context, tx *sql.Tx, t domain.Trade) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags for %s: %w", t.ID, err)
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades
		(id, symbol, open_date, close_date, entry_time, exit_time, side,
		 status, net_pnl, gross_pnl, commissions, contracts_traded, tags,
		 model, rating, stop_loss, profit_target, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			open_date = excluded.open_date,
			close_date = excluded.close_date,
			entry_time = excluded.entry_time,
			exit_time = excluded.exit_time,
			side = excluded.side,
			status = excluded.status,
			net_pnl = excluded.net_pnl,
			gross_pnl = excluded.gross_pnl,
			commissions = excluded.commissions,
			contracts_traded = excluded.contracts_traded,
			tags = excluded.tags,
			model = excluded.model,
			rating = excluded.rating,
			stop_loss = excluded.stop_loss,
			profit_target = excluded.profit_target`,
		t.ID, t.Symbol, t.OpenDate, t.CloseDate, t.EntryTime, t.ExitTime,
		string(t.Side), string(t.Status), t.NetPnl, t.GrossPnl,
		t.Commissions, t.ContractsTraded, string(tags), t.Model, t.Rating,
		t.StopLoss, t.ProfitTarget, created)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var t domain.Trade
	var side, status, tags string
	var entry, exit sql.NullTime
	if err := row.Scan(&t.ID, &t.Symbol, &t.OpenDate, &t.CloseDate,
		&entry, &exit, &side, &status, &t.NetPnl, &t.GrossPnl,
		&t.Commissions, &t.ContractsTraded, &tags, &t.Model, &t.Rating,
		&t.StopLoss, &t.ProfitTarget, &t.CreatedAt); err != nil {
		return t, fmt.Errorf("scan trade: %w", err)
	}
	t.Side = domain.TradeSide(side)
	t.Status = domain.TradeStatus(status)
	if entry.Valid {
		t.EntryTime = &entry.Time
	}
	if exit.Valid {
		t.ExitTime = &exit.Time
	}
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return t, fmt.Errorf("unmarshal tags for %s: %w", t.ID, err)
		}
	}
	return t, nil
}
