package marketstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ashare_backend/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "market.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s := New(db, zerolog.Nop())
	require.NoError(t, s.Migrate())
	return s
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func dailyBar(code, date, closePrice string) models.StockDailyHistory {
	c := decimal.RequireFromString(closePrice)
	return models.StockDailyHistory{
		TsCode:    code,
		TradeDate: day(date),
		Period:    "daily",
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Vol:       decimal.NewFromInt(1234),
		PctChg:    decimal.RequireFromString("1.5"),
	}
}

func TestApplyBarsEmpty(t *testing.T) {
	s := newTestStore(t)
	n, err := s.ApplyBars(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyBarsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []models.StockDailyHistory{
		dailyBar("600000.SH", "2025-01-06", "10.40"),
		dailyBar("600000.SH", "2025-01-07", "10.55"),
	}
	n, err := s.ApplyBars(ctx, bars)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	again := []models.StockDailyHistory{
		dailyBar("600000.SH", "2025-01-06", "10.40"),
		dailyBar("600000.SH", "2025-01-07", "10.60"),
	}
	_, err = s.ApplyBars(ctx, again)
	require.NoError(t, err)

	count, err := s.CountBars(ctx, "600000.SH", "daily")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	stored, err := s.Bars(ctx, "600000.SH", "daily", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, decimal.RequireFromString("10.60").Equal(stored[1].Close), "value columns are overwritten")

	latest, err := s.LatestBasic(ctx, "600000.SH")
	require.NoError(t, err)
	assert.Equal(t, day("2025-01-07"), latest.TradeDate.UTC())
	assert.True(t, decimal.RequireFromString("10.60").Equal(latest.Close))

	var basics int64
	require.NoError(t, s.DB().Model(&models.StockDailyBasic{}).Count(&basics).Error)
	assert.EqualValues(t, 2, basics)
}

func TestApplyBarsRollsBackBothTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	diskFull := errors.New("disk full")
	err := s.DB().Callback().Create().Before("gorm:create").Register("test:fail_basic", func(tx *gorm.DB) {
		if tx.Statement.Table == "stock_daily_basic" {
			_ = tx.AddError(diskFull)
		}
	})
	require.NoError(t, err)

	_, err = s.ApplyBars(ctx, []models.StockDailyHistory{dailyBar("600000.SH", "2025-01-06", "10.40")})
	require.Error(t, err)

	var swe *StorageWriteError
	require.True(t, errors.As(err, &swe))
	assert.Equal(t, "600000.SH", swe.Code)
	assert.ErrorIs(t, err, diskFull)

	count, err := s.CountBars(ctx, "600000.SH", "daily")
	require.NoError(t, err)
	assert.Zero(t, count, "history rows must roll back with the basic rows")
}

func TestIntradayBarsSkipBasicProjection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bar := dailyBar("600000.SH", "2025-01-06", "10.40")
	bar.Period = "5min"
	bar.TradeDate = time.Date(2025, 1, 6, 9, 35, 0, 0, time.UTC)
	_, err := s.ApplyBars(ctx, []models.StockDailyHistory{bar})
	require.NoError(t, err)

	last, ok, err := s.LastTradeDate(ctx, "600000.SH", "5min")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bar.TradeDate, last)

	_, err = s.LatestBasic(ctx, "600000.SH")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestLastTradeDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastTradeDate(ctx, "600000.SH", "daily")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ApplyBars(ctx, []models.StockDailyHistory{
		dailyBar("600000.SH", "2025-01-03", "10.0"),
		dailyBar("600000.SH", "2025-01-10", "10.2"),
		dailyBar("600000.SH", "2025-01-06", "10.1"),
	})
	require.NoError(t, err)

	last, ok, err := s.LastTradeDate(ctx, "600000.SH", "daily")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day("2025-01-10"), last)
}

func TestReplaceInstruments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.ReplaceInstruments(ctx, nil), ErrEmptyInstrumentSet)

	require.NoError(t, s.ReplaceInstruments(ctx, []models.StockBasic{
		{TsCode: "600000.SH", Name: "浦发银行", Market: "SH"},
		{TsCode: "000001.SZ", Name: "平安银行", Market: "SZ"},
	}))
	require.NoError(t, s.ReplaceInstruments(ctx, []models.StockBasic{
		{TsCode: "600000.SH", Name: "浦发银行", Market: "SH"},
		{TsCode: "300750.SZ", Name: "宁德时代", Market: "SZ"},
	}))

	codes, err := s.InstrumentCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"300750.SZ", "600000.SH"}, codes)

	rows, total, err := s.ListInstruments(ctx, InstrumentFilter{Search: "300", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "宁德时代", rows[0].Name)

	_, total, err = s.ListInstruments(ctx, InstrumentFilter{Market: "sh"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestBarsRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyBars(ctx, []models.StockDailyHistory{
		dailyBar("000001.SZ", "2025-01-06", "11.0"),
		dailyBar("000001.SZ", "2025-01-07", "11.1"),
		dailyBar("000001.SZ", "2025-01-08", "11.2"),
	})
	require.NoError(t, err)

	bars, err := s.Bars(ctx, "000001.SZ", "daily", day("2025-01-07"), day("2025-01-08"), 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, day("2025-01-07"), bars[0].TradeDate.UTC())

	bars, err = s.Bars(ctx, "000001.SZ", "daily", time.Time{}, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}
