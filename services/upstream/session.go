package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dateLayout   = "2006-01-02"
	minuteLayout = "20060102150405"

	logoutTimeout = 10 * time.Second
)

// Granularity is the bar frequency understood by the provider.
type Granularity string

const (
	Daily Granularity = "d"
	Min5  Granularity = "5"
	Min15 Granularity = "15"
	Min30 Granularity = "30"
	Min60 Granularity = "60"
)

// ParseGranularity validates a configured frequency.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Daily, Min5, Min15, Min30, Min60:
		return g, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// Intraday reports whether bars carry a time of day.
func (g Granularity) Intraday() bool {
	return g != Daily
}

// Period is the value stored in stock_daily_history.period.
func (g Granularity) Period() string {
	if g == Daily {
		return "daily"
	}
	return string(g) + "min"
}

var (
	dailyFields  = []string{"date", "code", "open", "high", "low", "close", "preclose", "volume", "amount", "pctChg"}
	minuteFields = []string{"date", "time", "code", "open", "high", "low", "close", "volume", "amount"}
)

// ListedInstrument is one row of the provider's instrument listing.
type ListedInstrument struct {
	Code        string // provider notation, "sh.600000"
	TradeStatus string
	Name        string
}

// StockBasicRow is one row of the provider's reference data.
type StockBasicRow struct {
	Code    string // provider notation
	Name    string
	IPODate time.Time
	OutDate time.Time // zero while listed
	Type    string    // "1" stock, "2" index, ...
	Status  string    // "1" listed
}

// BarRow is a single OHLCV bar as returned by the provider. Times are the
// exchange wall clock expressed in UTC.
type BarRow struct {
	Code     string // provider notation
	Time     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	PreClose decimal.Decimal
	Volume   decimal.Decimal // shares
	Amount   decimal.Decimal // yuan
	PctChg   decimal.Decimal
}

// Session is a logged-in provider session. Queries are lazy cursors; the
// context passed to Cursor.Next bounds each page request.
type Session struct {
	client *Client
	id     string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// ID returns the provider session id.
func (s *Session) ID() string {
	return s.id
}

// Close logs out. It is safe to call more than once; only the first call
// talks to the provider.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
		defer cancel()
		s.closeErr = s.client.logout(ctx, s.id)
		if s.closeErr != nil {
			s.client.logger.Warn().Err(s.closeErr).Msg("Upstream logout failed")
			return
		}
		s.client.logger.Info().Msg("Upstream session closed")
	})
	return s.closeErr
}

// ListInstruments lists every instrument known on day.
func (s *Session) ListInstruments(day time.Time) *Cursor[ListedInstrument] {
	params := url.Values{}
	params.Set("day", day.Format(dateLayout))
	params.Set("fields", "code,tradeStatus,code_name")

	return pagedQuery(s, "all_stock", params, func(r rowReader, row []string) (ListedInstrument, bool, error) {
		return ListedInstrument{
			Code:        r.get(row, "code"),
			TradeStatus: r.get(row, "tradeStatus"),
			Name:        r.get(row, "code_name"),
		}, true, nil
	})
}

// ListTradingDays yields the open trading days within [start, end].
func (s *Session) ListTradingDays(start, end time.Time) *Cursor[time.Time] {
	params := url.Values{}
	params.Set("start_date", start.Format(dateLayout))
	params.Set("end_date", end.Format(dateLayout))
	params.Set("fields", "calendar_date,is_trading_day")

	return pagedQuery(s, "trade_dates", params, func(r rowReader, row []string) (time.Time, bool, error) {
		if r.get(row, "is_trading_day") != "1" {
			return time.Time{}, false, nil
		}
		d, err := time.Parse(dateLayout, r.get(row, "calendar_date"))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("calendar_date: %w", err)
		}
		return d, true, nil
	})
}

// ListStockBasics returns reference data for every instrument.
func (s *Session) ListStockBasics() *Cursor[StockBasicRow] {
	params := url.Values{}
	params.Set("fields", "code,code_name,ipoDate,outDate,type,status")

	return pagedQuery(s, "stock_basic", params, func(r rowReader, row []string) (StockBasicRow, bool, error) {
		ipo, err := parseOptionalDate(r.get(row, "ipoDate"))
		if err != nil {
			return StockBasicRow{}, false, fmt.Errorf("ipoDate: %w", err)
		}
		out, err := parseOptionalDate(r.get(row, "outDate"))
		if err != nil {
			return StockBasicRow{}, false, fmt.Errorf("outDate: %w", err)
		}
		return StockBasicRow{
			Code:    r.get(row, "code"),
			Name:    r.get(row, "code_name"),
			IPODate: ipo,
			OutDate: out,
			Type:    r.get(row, "type"),
			Status:  r.get(row, "status"),
		}, true, nil
	})
}

// FetchBars fetches bars for one instrument (provider notation) between
// start and end inclusive. An empty result is not an error.
func (s *Session) FetchBars(code string, start, end time.Time, g Granularity) *Cursor[BarRow] {
	fields := dailyFields
	if g.Intraday() {
		fields = minuteFields
	}

	params := url.Values{}
	params.Set("code", code)
	params.Set("fields", strings.Join(fields, ","))
	params.Set("start_date", start.Format(dateLayout))
	params.Set("end_date", end.Format(dateLayout))
	params.Set("frequency", string(g))
	params.Set("adjustflag", s.client.adjust)

	return pagedQuery(s, "history_k_data", params, func(r rowReader, row []string) (BarRow, bool, error) {
		bar, err := parseBar(r, row, g)
		return bar, err == nil, err
	})
}

func parseBar(r rowReader, row []string, g Granularity) (BarRow, error) {
	bar := BarRow{Code: r.get(row, "code")}

	var err error
	if g.Intraday() {
		ts := r.get(row, "time")
		if len(ts) < len(minuteLayout) {
			return BarRow{}, fmt.Errorf("time %q too short", ts)
		}
		bar.Time, err = time.Parse(minuteLayout, ts[:len(minuteLayout)])
	} else {
		bar.Time, err = time.Parse(dateLayout, r.get(row, "date"))
	}
	if err != nil {
		return BarRow{}, fmt.Errorf("bar time: %w", err)
	}

	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"preclose", &bar.PreClose},
		{"volume", &bar.Volume},
		{"amount", &bar.Amount},
		{"pctChg", &bar.PctChg},
	} {
		if *f.dst, err = parseDecimal(r.get(row, f.name)); err != nil {
			return BarRow{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return bar, nil
}

// pagedQuery wraps a tabular endpoint in a cursor. parse may drop a row by
// returning keep=false.
func pagedQuery[T any](s *Session, op string, params url.Values, parse func(rowReader, []string) (T, bool, error)) *Cursor[T] {
	return NewCursor(func(ctx context.Context, page int) ([]T, bool, error) {
		if s.closed.Load() {
			return nil, false, &QueryError{Op: op, Err: ErrSessionClosed}
		}

		// Copy so concurrent cursors never share the mutated params.
		p := url.Values{}
		for k, v := range params {
			p[k] = append([]string(nil), v...)
		}

		resp, err := s.client.query(ctx, s.id, op, p, page)
		if err != nil {
			return nil, false, err
		}

		r := newRowReader(resp.Fields)
		items := make([]T, 0, len(resp.Data))
		for i, row := range resp.Data {
			item, keep, err := parse(r, row)
			if err != nil {
				return nil, false, &QueryError{Op: op, Err: fmt.Errorf("page %d row %d: %w", page, i, err)}
			}
			if keep {
				items = append(items, item)
			}
		}
		return items, resp.HasMore, nil
	})
}

// rowReader maps field names to column positions of one response.
type rowReader map[string]int

func newRowReader(fields []string) rowReader {
	r := make(rowReader, len(fields))
	for i, f := range fields {
		r[f] = i
	}
	return r
}

func (r rowReader) get(row []string, field string) string {
	i, ok := r[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
