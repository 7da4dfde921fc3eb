package data

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ridopark/keylevels/pkg/market"
)

// TimescaleProvider reads historical OHLCV data from a TimescaleDB/PostgreSQL
// ohlcv_bars hypertable.
type TimescaleProvider struct {
	db *sql.DB
}

// NewTimescaleProvider opens a connection to TimescaleDB and verifies it
func NewTimescaleProvider(connectionString string) (*TimescaleProvider, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &TimescaleProvider{db: db}, nil
}

// Name identifies the provider in logs
func (p *TimescaleProvider) Name() string { return "timescaledb" }

// GetOHLCV retrieves bars for the ticker over the trailing lookback days,
// oldest first.
func (p *TimescaleProvider) GetOHLCV(ticker, timeframe string, lookbackDays int) (market.Series, error) {
	query := `
		SELECT time, open, high, low, close, volume
		FROM ohlcv_bars
		WHERE ticker = $1 AND timeframe = $2 AND time >= NOW() - make_interval(days => $3)
		ORDER BY time ASC
	`

	rows, err := p.db.Query(query, ticker, timeframe, lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query ohlcv_bars: %w", err)
	}
	defer rows.Close()

	var series market.Series
	for rows.Next() {
		var bar market.Bar
		err := rows.Scan(
			&bar.Time,
			&bar.Open,
			&bar.High,
			&bar.Low,
			&bar.Close,
			&bar.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		series = append(series, bar)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return series, nil
}

// Close closes the database connection
func (p *TimescaleProvider) Close() error {
	return p.db.Close()
}

// Verify that TimescaleProvider implements the Provider interface
var _ Provider = (*TimescaleProvider)(nil)
