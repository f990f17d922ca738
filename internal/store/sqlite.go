package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"PortfolioLens/internal/logging"
	"PortfolioLens/internal/model"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists positions, tags and snapshots to a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	logger = logging.OrNop(logger)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			quantity      REAL NOT NULL,
			cost_price    REAL NOT NULL,
			is_closed     INTEGER NOT NULL DEFAULT 0,
			closing_price REAL,
			tags          TEXT NOT NULL DEFAULT '[]',
			purchase_date TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,

		`CREATE TABLE IF NOT EXISTS tags (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id              TEXT NOT NULL,
			timestamp           INTEGER NOT NULL,
			total_market_value  REAL,
			total_unrealized_pl REAL,
			tags                TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const positionColumns = `id, symbol, quantity, cost_price, is_closed, closing_price, tags, purchase_date`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (model.Position, error) {
	var (
		p       model.Position
		closed  int
		closing sql.NullFloat64
		tags    string
	)
	if err := row.Scan(&p.ID, &p.Symbol, &p.Quantity, &p.CostPrice, &closed, &closing, &tags, &p.PurchaseDate); err != nil {
		return p, err
	}
	p.IsClosed = closed != 0
	if closing.Valid {
		p.ClosingPrice = model.Float(closing.Float64)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return p, fmt.Errorf("decode tags of %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *SQLiteStore) Find(ctx context.Context, f Filter) ([]model.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE 1=1`
	var args []any
	if f.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if f.OpenOnly {
		query += ` AND is_closed = 0`
	}
	query += ` ORDER BY symbol, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		if f.Tag != "" && !hasTag(p, f.Tag) {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func hasTag(p model.Position, tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *SQLiteStore) Insert(ctx context.Context, pos model.Position) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	tags, closing, err := encodePosition(pos)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO positions (`+positionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		pos.ID, strings.ToUpper(pos.Symbol), pos.Quantity, pos.CostPrice,
		boolInt(pos.IsClosed), closing, tags, pos.PurchaseDate,
	)
	if err != nil {
		return "", fmt.Errorf("insert position: %w", err)
	}
	return pos.ID, nil
}

func (s *SQLiteStore) Update(ctx context.Context, pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, closing, err := encodePosition(pos)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE positions
		SET symbol = ?, quantity = ?, cost_price = ?, is_closed = ?, closing_price = ?, tags = ?, purchase_date = ?
		WHERE id = ?`,
		strings.ToUpper(pos.Symbol), pos.Quantity, pos.CostPrice,
		boolInt(pos.IsClosed), closing, tags, pos.PurchaseDate, pos.ID,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return affected(res, pos.ID)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return affected(res, id)
}

func encodePosition(pos model.Position) (string, sql.NullFloat64, error) {
	tags := pos.Tags
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", sql.NullFloat64{}, fmt.Errorf("encode tags: %w", err)
	}
	var closing sql.NullFloat64
	if pos.ClosingPrice != nil {
		closing = sql.NullFloat64{Float64: *pos.ClosingPrice, Valid: true}
	}
	return string(data), closing, nil
}

func affected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) TagNames(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM tags`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (s *SQLiteStore) PutTag(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO tags (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, id, name)
	if err != nil {
		return fmt.Errorf("put tag: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.RunID == "" {
		snap.RunID = uuid.NewString()
	}
	if snap.Taken.IsZero() {
		snap.Taken = s.now()
	}
	tags, err := json.Marshal(snap.Tags)
	if err != nil {
		return fmt.Errorf("encode tag rows: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots
		(run_id, timestamp, total_market_value, total_unrealized_pl, tags)
		VALUES (?,?,?,?,?)`,
		snap.RunID, snap.Taken.Unix(), snap.Summary.TotalMarketValue, snap.Summary.TotalUnrealizedPL, string(tags),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var (
		snap Snapshot
		ts   int64
		tags sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT run_id, timestamp, total_market_value, total_unrealized_pl, tags
		FROM snapshots ORDER BY timestamp DESC, id DESC LIMIT 1`).
		Scan(&snap.RunID, &ts, &snap.Summary.TotalMarketValue, &snap.Summary.TotalUnrealizedPL, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("query snapshot: %w", err)
	}
	snap.Taken = time.Unix(ts, 0)
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &snap.Tags); err != nil {
			return snap, fmt.Errorf("decode tag rows: %w", err)
		}
	}
	return snap, nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sqlite store")
	return s.db.Close()
}
