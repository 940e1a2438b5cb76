package bitmex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/schema"
)

func barsJSON(symbol string, from time.Time, count int, step time.Duration) []byte {
	rows := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ts := from.Add(time.Duration(i) * step)
		rows = append(rows, fmt.Sprintf(
			`{"timestamp":%q,"symbol":%q,"open":100,"high":110,"low":90,"close":105,"volume":%d}`,
			ts.Format(time.RFC3339), symbol, i+1))
	}
	return []byte("[" + strings.Join(rows, ",") + "]")
}

func TestQueryHistoryPagesUntilShortPage(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	var calls []url.Values
	client, _, _, _ := newRestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.URL.Query())
		n := len(calls)
		mu.Unlock()

		if n == 1 {
			_, _ = w.Write(barsJSON("XBTUSD", start, historyPageSize, time.Minute))
			return
		}
		_, _ = w.Write(barsJSON("XBTUSD", start.Add(historyPageSize*time.Minute), 10, time.Minute))
	})

	bars, err := client.QueryHistory(context.Background(), schema.HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: schema.IntervalMinute,
		Start:    start,
	})
	require.NoError(t, err)
	require.Len(t, bars, historyPageSize+10)
	require.True(t, bars[0].Timestamp.Equal(start))
	require.True(t, bars[len(bars)-1].Timestamp.Equal(start.Add(759*time.Minute)))
	require.Equal(t, schema.IntervalMinute, bars[0].Interval)
	requireDecimal(t, "105", bars[0].Close)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)

	first := calls[0]
	require.Equal(t, "1m", first.Get("binSize"))
	require.Equal(t, "false", first.Get("partial"))
	require.Equal(t, "XBTUSD", first.Get("symbol"))
	require.Equal(t, "750", first.Get("count"))
	require.Equal(t, start.Format(time.RFC3339), first.Get("startTime"))
	require.Empty(t, first.Get("endTime"))

	// The cursor resumes one interval past the last delivered bar.
	second := calls[1]
	require.Equal(t, start.Add(historyPageSize*time.Minute).Format(time.RFC3339),
		second.Get("startTime"))
}

func TestQueryHistoryCarriesEndBound(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	var mu sync.Mutex
	var calls []url.Values
	client, _, _, _ := newRestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.URL.Query())
		mu.Unlock()
		_, _ = w.Write(barsJSON("XBTUSD", start, 48, time.Hour))
	})

	bars, err := client.QueryHistory(context.Background(), schema.HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: schema.IntervalHour,
		Start:    start,
		End:      end,
	})
	require.NoError(t, err)
	require.Len(t, bars, 48)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	require.Equal(t, "1h", calls[0].Get("binSize"))
	require.Equal(t, end.Format(time.RFC3339), calls[0].Get("endTime"))
}

func TestQueryHistoryReturnsPartialOnVenueError(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	pages := 0
	client, sink, _, _ := newRestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages++
		n := pages
		mu.Unlock()

		if n == 1 {
			_, _ = w.Write(barsJSON("XBTUSD", start, historyPageSize, time.Minute))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"name":"RateLimitError","message":"Rate limit exceeded"}}`))
	})

	bars, err := client.QueryHistory(context.Background(), schema.HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: schema.IntervalMinute,
		Start:    start,
	})
	require.NoError(t, err)
	require.Len(t, bars, historyPageSize)

	var sawNotice bool
	for _, msg := range sink.Logs() {
		if strings.Contains(msg, "history query") && strings.Contains(msg, "429") {
			sawNotice = true
		}
	}
	require.True(t, sawNotice)
}

func TestQueryHistoryStopsOnEmptyPage(t *testing.T) {
	client, _, _, _ := newRestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	bars, err := client.QueryHistory(context.Background(), schema.HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: schema.IntervalDaily,
		Start:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Empty(t, bars)
}

func TestQueryHistoryQuotaDenied(t *testing.T) {
	client, _, governor, _ := newRestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	exhaustQuota(governor)

	bars, err := client.QueryHistory(context.Background(), schema.HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: schema.IntervalMinute,
		Start:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	require.Equal(t, errs.CodeRateLimited, errs.CodeOf(err))
	require.Empty(t, bars)
}

func TestQueryHistoryValidatesRequest(t *testing.T) {
	client, _, _, _ := newRestFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.QueryHistory(context.Background(), schema.HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: schema.IntervalMinute,
	})
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))

	_, err = client.QueryHistory(context.Background(), schema.HistoryRequest{
		Symbol:   "XBTUSD",
		Interval: "7m",
		Start:    time.Now(),
	})
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}
