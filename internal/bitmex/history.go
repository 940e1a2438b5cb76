package bitmex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/observability"
	"github.com/quayside/bitmexgw/internal/schema"
)

// historyPageSize is the venue's maximum row count per bucketed-trades page.
const historyPageSize = 750

// QueryHistory pages GET /trade/bucketed from req.Start forward and returns
// the bars eagerly materialized, oldest first. Each page is individually
// gated on the governor; a denial mid-run returns the bars gathered so far
// together with the rate-limited error. A short or empty page ends the run; a
// venue error ends it with whatever was collected.
func (c *RestClient) QueryHistory(ctx context.Context, req schema.HistoryRequest) ([]schema.BarData, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var bars []schema.BarData
	cursor := req.Start.UTC()

	for {
		select {
		case <-ctx.Done():
			return bars, fmt.Errorf("history query: %w", ctx.Err())
		default:
		}

		if !c.governor.TryAcquire() {
			return bars, c.rateLimited(ctx, "trade/bucketed")
		}

		query := url.Values{}
		query.Set("binSize", string(req.Interval))
		query.Set("partial", "false")
		query.Set("symbol", req.Symbol)
		query.Set("count", strconv.Itoa(historyPageSize))
		query.Set("startTime", cursor.Format(time.RFC3339))
		if !req.End.IsZero() {
			query.Set("endTime", req.End.UTC().Format(time.RFC3339))
		}

		status, body, err := c.do(ctx, http.MethodGet, "/trade/bucketed", query, nil)
		if err != nil {
			return bars, err
		}
		if status/100 != 2 {
			msg := fmt.Sprintf("history query for %s failed, status %d: %s",
				req.Symbol, status, venueErrorText(body))
			c.sink.OnLog(msg)
			c.log.Warn("history page failed",
				observability.String("symbol", req.Symbol),
				observability.Err(venueRejection(status, body)))
			return bars, nil
		}

		var page []bucketedBar
		if err := json.Unmarshal(body, &page); err != nil {
			return bars, errs.New(venueName, errs.CodeMalformed,
				errs.WithMessage("decode bucketed trade page"), errs.WithCause(err))
		}
		if len(page) == 0 {
			return bars, nil
		}

		for _, row := range page {
			bars = append(bars, schema.BarData{
				Symbol:    req.Symbol,
				Interval:  req.Interval,
				Open:      row.Open,
				High:      row.High,
				Low:       row.Low,
				Close:     row.Close,
				Volume:    row.Volume,
				Timestamp: row.Timestamp,
			})
		}
		c.log.Info("history page loaded",
			observability.String("symbol", req.Symbol),
			observability.String("interval", string(req.Interval)),
			observability.Int("bars", len(page)),
			observability.String("from", page[0].Timestamp.Format(time.RFC3339)),
			observability.String("to", page[len(page)-1].Timestamp.Format(time.RFC3339)))

		if len(page) < historyPageSize {
			return bars, nil
		}
		cursor = page[len(page)-1].Timestamp.Add(req.Interval.Duration())
	}
}
