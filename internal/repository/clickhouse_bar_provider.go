package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/clickhouse"
)

var _ drepo.BarProvider = (*ClickHouseBarProvider)(nil)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// ClickHouseBarProvider backfills sealed bars from a table with columns
// symbol, timeframe, open_time, open, high, low, close, volume.
type ClickHouseBarProvider struct {
	db    rowQuerier
	query string
}

func NewClickHouseBarProvider(client *clickhouse.Client, table string) (*ClickHouseBarProvider, error) {
	return newClickHouseBarProvider(client.DB(), client.Database(), table)
}

func newClickHouseBarProvider(db rowQuerier, database, table string) (*ClickHouseBarProvider, error) {
	q, err := barsQuery(database, table)
	if err != nil {
		return nil, err
	}
	return &ClickHouseBarProvider{db: db, query: q}, nil
}

// barsQuery selects the newest rows and lets FetchBars restore ascending
// order.
func barsQuery(database, table string) (string, error) {
	if !identRe.MatchString(database) || !identRe.MatchString(table) {
		return "", fmt.Errorf("invalid clickhouse table %q.%q", database, table)
	}
	return fmt.Sprintf(`SELECT open_time, open, high, low, close, volume
FROM %s.%s
WHERE symbol = ? AND timeframe = ?
ORDER BY open_time DESC
LIMIT ?`, database, table), nil
}

func (p *ClickHouseBarProvider) FetchBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, p.query, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("query bars %s %s: %w", symbol, tf, err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, limit)
	for rows.Next() {
		b := models.Bar{Symbol: symbol, Timeframe: tf, Sealed: true}
		var openTime time.Time
		if err := rows.Scan(&openTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.OpenTime = openTime.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	reverseBars(out)
	return out, nil
}

func reverseBars(b []models.Bar) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
