package upstream_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ashare_backend/services/upstream"
	"ashare_backend/services/upstream/upstreamtest"
)

func newClient(t *testing.T, srv *httptest.Server, opts ...upstream.ClientOption) *upstream.Client {
	t.Helper()
	opts = append([]upstream.ClientOption{
		upstream.WithBaseURL(srv.URL),
		upstream.WithRateLimit(1000),
	}, opts...)
	return upstream.NewClient("anonymous", "123456", opts...)
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOpenAndClose(t *testing.T) {
	p := upstreamtest.New()
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, 1, p.Logins())
	assert.Equal(t, 1, p.Logouts(), "second Close must not log out again")
}

func TestOpenRejectedCredentials(t *testing.T) {
	p := upstreamtest.New()
	srv := p.Start(t)

	client := upstream.NewClient("anonymous", "wrong", upstream.WithBaseURL(srv.URL))
	_, err := client.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, upstream.ErrUpstreamAuth))
}

func TestOpenHTTPUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).Open(context.Background())
	assert.True(t, errors.Is(err, upstream.ErrUpstreamAuth))

	var qe *upstream.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, http.StatusUnauthorized, qe.StatusCode)
}

func TestOpenTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := upstream.NewClient("anonymous", "123456", upstream.WithBaseURL(url))
	_, err := client.Open(context.Background())
	require.Error(t, err)

	var qe *upstream.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "login", qe.Op)
	assert.False(t, errors.Is(err, upstream.ErrUpstreamAuth))
}

func TestListInstrumentsPaginates(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("all_stock", upstreamtest.Static(
		[]string{"code", "tradeStatus", "code_name"},
		[][]string{
			{"sh.600000", "1", "浦发银行"},
			{"sh.600004", "1", "白云机场"},
			{"sz.000001", "1", "平安银行"},
			{"sz.300750", "1", "宁德时代"},
			{"sh.688981", "1", "中芯国际"},
		},
	))
	srv := p.Start(t)

	sess, err := newClient(t, srv, upstream.WithPageSize(2)).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	items, err := upstream.Collect(context.Background(), sess.ListInstruments(day("2025-01-06")))
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, "sh.600000", items[0].Code)
	assert.Equal(t, "宁德时代", items[3].Name)
	assert.Equal(t, 3, p.Calls("all_stock"))
}

func TestListTradingDaysOnlyOpen(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("trade_dates", upstreamtest.Static(
		[]string{"calendar_date", "is_trading_day"},
		[][]string{
			{"2025-01-03", "1"},
			{"2025-01-04", "0"},
			{"2025-01-05", "0"},
			{"2025-01-06", "1"},
		},
	))
	srv := p.Start(t)

	sess, err := newClient(t, srv, upstream.WithPageSize(1)).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	days, err := upstream.Collect(context.Background(), sess.ListTradingDays(day("2025-01-03"), day("2025-01-06")))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day("2025-01-03"), day("2025-01-06")}, days)
}

func TestFetchBarsDaily(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("history_k_data", upstreamtest.Bars(upstreamtest.DailyFields, map[string][][]string{
		"sh.600000": {
			{"2025-01-06", "sh.600000", "10.10", "10.50", "10.00", "10.40", "10.05", "123400", "1283360.00", "3.482587"},
			{"2025-01-07", "sh.600000", "10.40", "10.60", "10.30", "10.55", "10.40", "", "", ""},
		},
	}))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	bars, err := upstream.Collect(context.Background(),
		sess.FetchBars("sh.600000", day("2025-01-06"), day("2025-01-07"), upstream.Daily))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, day("2025-01-06"), bars[0].Time)
	assert.True(t, decimal.RequireFromString("10.40").Equal(bars[0].Close))
	assert.True(t, decimal.RequireFromString("123400").Equal(bars[0].Volume))
	assert.True(t, bars[1].Volume.IsZero(), "empty numeric fields parse to zero")
}

func TestFetchBarsEmptyIsNotAnError(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("history_k_data", upstreamtest.Bars(upstreamtest.DailyFields, nil))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	bars, err := upstream.Collect(context.Background(),
		sess.FetchBars("sh.600000", day("2025-01-06"), day("2025-01-07"), upstream.Daily))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestFetchBarsMinute(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("history_k_data", upstreamtest.Static(
		[]string{"date", "time", "code", "open", "high", "low", "close", "volume", "amount"},
		[][]string{{"2025-01-06", "20250106093500000", "sh.600000", "10.1", "10.2", "10.0", "10.15", "5000", "50500"}},
	))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	bars, err := upstream.Collect(context.Background(),
		sess.FetchBars("sh.600000", day("2025-01-06"), day("2025-01-06"), upstream.Min5))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 35, 0, 0, time.UTC), bars[0].Time)
	assert.True(t, bars[0].PreClose.IsZero())
}

func TestQueryErrorAbortsCursor(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("history_k_data", upstreamtest.Failing("network busy"))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	cur := sess.FetchBars("sh.600000", day("2025-01-06"), day("2025-01-07"), upstream.Daily)
	assert.False(t, cur.Next(context.Background()))
	assert.False(t, cur.Next(context.Background()), "failed cursor stays failed")

	var qe *upstream.QueryError
	require.True(t, errors.As(cur.Err(), &qe))
	assert.Equal(t, "history_k_data", qe.Op)
	assert.Equal(t, "10002007", qe.Code)
	assert.Contains(t, qe.Error(), "network busy")
	assert.Equal(t, 1, p.Calls("history_k_data"))
}

func TestMalformedRowIsQueryError(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("history_k_data", upstreamtest.Static(upstreamtest.DailyFields,
		[][]string{{"2025-01-06", "sh.600000", "abc", "", "", "", "", "", "", ""}}))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	_, err = upstream.Collect(context.Background(),
		sess.FetchBars("sh.600000", day("2025-01-06"), day("2025-01-06"), upstream.Daily))
	var qe *upstream.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Contains(t, qe.Error(), "open")
}

func TestQueryAfterClose(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("all_stock", upstreamtest.Static([]string{"code"}, [][]string{{"sh.600000"}}))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = upstream.Collect(context.Background(), sess.ListInstruments(day("2025-01-06")))
	assert.True(t, errors.Is(err, upstream.ErrSessionClosed))
	assert.Equal(t, 0, p.Calls("all_stock"))
}

func TestCancelledContextStopsCursor(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("all_stock", upstreamtest.Static([]string{"code"}, [][]string{{"sh.600000"}}))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cur := sess.ListInstruments(day("2025-01-06"))
	assert.False(t, cur.Next(ctx))
	assert.True(t, errors.Is(cur.Err(), context.Canceled))
}

func TestListStockBasics(t *testing.T) {
	p := upstreamtest.New()
	p.Handle("stock_basic", upstreamtest.Static(
		[]string{"code", "code_name", "ipoDate", "outDate", "type", "status"},
		[][]string{
			{"sh.600000", "浦发银行", "1999-11-10", "", "1", "1"},
			{"sz.000003", "PT金田A", "1991-07-03", "2002-06-14", "1", "0"},
		},
	))
	srv := p.Start(t)

	sess, err := newClient(t, srv).Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	rows, err := upstream.Collect(context.Background(), sess.ListStockBasics())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, day("1999-11-10"), rows[0].IPODate)
	assert.True(t, rows[0].OutDate.IsZero())
	assert.Equal(t, day("2002-06-14"), rows[1].OutDate)
}

func TestParseGranularity(t *testing.T) {
	g, err := upstream.ParseGranularity("15")
	require.NoError(t, err)
	assert.Equal(t, upstream.Min15, g)
	assert.Equal(t, "15min", g.Period())
	assert.Equal(t, "daily", upstream.Daily.Period())

	_, err = upstream.ParseGranularity("w")
	assert.Error(t, err)
}
