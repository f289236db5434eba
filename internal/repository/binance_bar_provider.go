package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	pkghttp "FinFusion/pkg/http"
)

var _ drepo.BarProvider = (*BinanceBarProvider)(nil)

// binanceKlineLimit is the per-request cap of /api/v3/klines.
const binanceKlineLimit = 1000

// BinanceBarProvider backfills from Binance's public klines endpoint.
type BinanceBarProvider struct {
	client *pkghttp.Client
	now    func() time.Time
}

func NewBinanceBarProvider(client *pkghttp.Client) *BinanceBarProvider {
	return &BinanceBarProvider{client: client, now: time.Now}
}

// FetchBars returns up to limit bars in ascending order. The still-open
// bar at the tail is dropped so only sealed history is seeded.
func (p *BinanceBarProvider) FetchBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > binanceKlineLimit {
		limit = binanceKlineLimit
	}
	base, quote, ok := models.SplitSymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("invalid symbol %q", symbol)
	}
	if !models.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("invalid timeframe %q", tf)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(base+quote))
	q.Set("interval", string(tf))
	q.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := p.client.GetJSON(ctx, "/api/v3/klines", q, &raw); err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, tf, err)
	}

	now := p.now().UTC()
	out := make([]models.Bar, 0, len(raw))
	for i, row := range raw {
		b, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		if b.OpenTime.Add(tf.Duration()).After(now) {
			continue
		}
		b.Symbol, b.Timeframe, b.Sealed = symbol, tf, true
		out = append(out, b)
	}
	return out, nil
}

// parseKline reads [openTime, "open", "high", "low", "close", "volume", ...].
func parseKline(row []json.RawMessage) (models.Bar, error) {
	if len(row) < 6 {
		return models.Bar{}, fmt.Errorf("short kline: %d fields", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return models.Bar{}, fmt.Errorf("open time: %w", err)
	}
	vals := make([]float64, 5)
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return models.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return models.Bar{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}
