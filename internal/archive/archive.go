// Package archive persists finished scan output into Postgres for
// long-horizon analysis. It is optional: the JSON/CSV exports remain
// the system of record, and archive failures are operator warnings,
// never scan failures.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/types"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConfigFromEnv reads the standard DB_* variables. Password has no
// default.
func ConfigFromEnv() Config {
	return Config{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   getEnvOrDefault("DB_NAME", "trendscan"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id SERIAL PRIMARY KEY,
	scan_type TEXT NOT NULL,
	scan_date TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	period TEXT NOT NULL DEFAULT '',
	processed INTEGER NOT NULL,
	signals INTEGER NOT NULL,
	nulls INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	completed BOOLEAN NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scan_results (
	id SERIAL PRIMARY KEY,
	scan_type TEXT NOT NULL,
	scan_date TEXT NOT NULL,
	symbol TEXT NOT NULL,
	name TEXT,
	signal TEXT NOT NULL,
	signal_type TEXT NOT NULL,
	strength INTEGER NOT NULL,
	buy_score INTEGER NOT NULL,
	sell_score INTEGER NOT NULL,
	net_score INTEGER NOT NULL,
	price REAL NOT NULL,
	change_percent REAL NOT NULL,
	stop_loss REAL,
	reason TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(scan_type, scan_date, symbol)
);

CREATE INDEX IF NOT EXISTS idx_scan_results_date ON scan_results(scan_date);
CREATE INDEX IF NOT EXISTS idx_scan_results_symbol ON scan_results(symbol);
`

// Archive wraps the Postgres connection.
type Archive struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects, pings, and creates the schema if missing.
func Open(cfg Config, log zerolog.Logger) (*Archive, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Archive{db: db, log: log.With().Str("component", "archive").Logger()}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) HealthCheck() error {
	if a == nil || a.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return a.db.Ping()
}

// RunRecord is one finished scan run's counters.
type RunRecord struct {
	ScanType  string
	Date      string
	Scope     string
	Period    string
	Processed int
	Signals   int
	Nulls     int
	Failed    int
	Completed bool
}

// SaveRun records the run summary.
func (a *Archive) SaveRun(ctx context.Context, rec RunRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO scan_runs (scan_type, scan_date, scope, period, processed, signals, nulls, failed, completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ScanType, rec.Date, rec.Scope, rec.Period,
		rec.Processed, rec.Signals, rec.Nulls, rec.Failed, rec.Completed)
	if err != nil {
		return fmt.Errorf("save scan run: %w", err)
	}
	return nil
}

// SaveResults upserts the day's results, one row per symbol.
func (a *Archive) SaveResults(ctx context.Context, scanType, date string, results []*types.SignalResult) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_results
			(scan_type, scan_date, symbol, name, signal, signal_type, strength,
			 buy_score, sell_score, net_score, price, change_percent, stop_loss, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (scan_type, scan_date, symbol) DO UPDATE SET
			signal = EXCLUDED.signal,
			signal_type = EXCLUDED.signal_type,
			strength = EXCLUDED.strength,
			buy_score = EXCLUDED.buy_score,
			sell_score = EXCLUDED.sell_score,
			net_score = EXCLUDED.net_score,
			price = EXCLUDED.price,
			change_percent = EXCLUDED.change_percent,
			stop_loss = EXCLUDED.stop_loss,
			reason = EXCLUDED.reason`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if r == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			scanType, date, r.Symbol, r.Name, string(r.Signal), string(r.SignalType),
			r.Strength, r.BuyScore, r.SellScore, r.NetScore,
			r.Price, r.ChangePercent, r.StopLoss, r.Reason); err != nil {
			return fmt.Errorf("archive %s: %w", r.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive transaction: %w", err)
	}
	a.log.Info().Str("scan_type", scanType).Str("date", date).Int("rows", len(results)).
		Msg("scan results archived")
	return nil
}

// TopSignals returns the strongest buy signals archived for a day.
func (a *Archive) TopSignals(ctx context.Context, date string, limit int) ([]types.SignalResult, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT symbol, name, signal, signal_type, strength, buy_score, sell_score,
		       net_score, price, change_percent, stop_loss, reason
		FROM scan_results
		WHERE scan_date = $1 AND signal_type = 'BUY'
		ORDER BY strength DESC
		LIMIT $2`, date, limit)
	if err != nil {
		return nil, fmt.Errorf("query top signals: %w", err)
	}
	defer rows.Close()

	var out []types.SignalResult
	for rows.Next() {
		var r types.SignalResult
		var stopLoss sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&r.Symbol, &r.Name, &r.Signal, &r.SignalType, &r.Strength,
			&r.BuyScore, &r.SellScore, &r.NetScore, &r.Price, &r.ChangePercent,
			&stopLoss, &reason); err != nil {
			return nil, fmt.Errorf("scan top signals row: %w", err)
		}
		r.StopLoss = stopLoss.Float64
		r.Reason = reason.String
		out = append(out, r)
	}
	return out, rows.Err()
}
