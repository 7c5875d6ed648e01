package syncer

import (
	"context"
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
	"ashare_backend/services/marketstore"
	"ashare_backend/services/upstream"
	"ashare_backend/services/upstream/upstreamtest"
)

func TestEndToEndDailyUpdate(t *testing.T) {
	provider := upstreamtest.New()
	provider.Handle("history_k_data", upstreamtest.Bars(upstreamtest.DailyFields, map[string][][]string{
		"sh.600000": {
			{"2025-01-03", "sh.600000", "9.90", "10.00", "9.80", "9.95", "9.90", "100000", "995000", "0.50"},
			{"2025-01-06", "sh.600000", "10.10", "10.50", "10.00", "10.40", "9.95", "123400", "1283360", "4.52"},
			{"2025-01-07", "sh.600000", "10.40", "10.60", "10.30", "10.55", "10.40", "98700", "1041285", "1.44"},
		},
	}))
	srv := provider.Start(t)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "e2e.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := marketstore.New(db, zerolog.Nop())
	require.NoError(t, store.Migrate())

	ctx := context.Background()
	require.NoError(t, store.ReplaceInstruments(ctx, []models.StockBasic{{TsCode: "600000.SH", Name: "浦发银行", Market: "SH"}}))
	_, err = store.ApplyBars(ctx, []models.StockDailyHistory{{
		TsCode:    "600000.SH",
		TradeDate: date("2025-01-05"),
		Period:    "daily",
		Close:     decimal.RequireFromString("9.95"),
	}})
	require.NoError(t, err)

	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	client := upstream.NewClient("anonymous", "123456",
		upstream.WithBaseURL(srv.URL),
		upstream.WithRateLimit(1000),
		upstream.WithPageSize(1),
	)
	trig := &fakeTriggers{}
	o := New(ClientOpener(client), store, trig, Options{
		Location: shanghai,
		Now:      func() time.Time { return time.Date(2025, 1, 7, 18, 0, 0, 0, shanghai) },
	}, zerolog.Nop())

	require.NoError(t, o.Run(ctx, RunRequest{Mode: ModeDailyUpdate}))

	snap := o.Status()
	assert.Equal(t, "completed", snap.Progress)
	assert.Equal(t, int64(2), snap.Counts.Rows)

	newBars, err := store.Bars(ctx, "600000.SH", "daily", date("2025-01-06"), date("2025-01-07"), 0)
	require.NoError(t, err)
	require.Len(t, newBars, 2)
	assert.Equal(t, date("2025-01-06"), newBars[0].TradeDate.UTC())
	assert.Equal(t, date("2025-01-07"), newBars[1].TradeDate.UTC())
	assert.True(t, decimal.NewFromInt(1234).Equal(newBars[0].Vol), "volume stored in lots")

	total, err := store.CountBars(ctx, "600000.SH", "daily")
	require.NoError(t, err)
	assert.EqualValues(t, 3, total, "seeded bar plus the two new ones")

	latest, err := store.LatestBasic(ctx, "600000.SH")
	require.NoError(t, err)
	assert.Equal(t, date("2025-01-07"), latest.TradeDate.UTC())
	assert.True(t, newBars[1].Close.Equal(latest.Close))
	assert.True(t, decimal.RequireFromString("10.55").Equal(latest.Close))

	assert.Equal(t, []string{"600000.SH"}, trig.factors)
	assert.Equal(t, 1, provider.Logins())
	assert.Equal(t, 1, provider.Logouts())

	// A second run finds nothing new.
	require.NoError(t, o.Run(ctx, RunRequest{Mode: ModeDailyUpdate}))
	assert.Equal(t, int64(1), o.Status().Counts.Skipped)
	total, err = store.CountBars(ctx, "600000.SH", "daily")
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}
