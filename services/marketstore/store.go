// Package marketstore persists instruments and bars through GORM.
package marketstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ashare_backend/models"
)

const batchSize = 500

// ErrEmptyInstrumentSet guards ReplaceInstruments against wiping stock_basic
// with an empty provider answer.
var ErrEmptyInstrumentSet = errors.New("refusing to replace instruments with an empty set")

// StorageWriteError is returned when a batch could not be committed. Nothing
// from the batch is visible afterwards.
type StorageWriteError struct {
	Op   string
	Code string
	Err  error
}

func (e *StorageWriteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("storage %s failed for %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// Store is the market-data repository
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store on an open database
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "marketstore").Logger(),
	}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the market tables.
func (s *Store) Migrate() error {
	return models.MigrateMarketModels(s.db)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InstrumentCodes returns every persisted instrument code in storage
// notation, ordered.
func (s *Store) InstrumentCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.db.WithContext(ctx).
		Model(&models.StockBasic{}).
		Order("ts_code").
		Pluck("ts_code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("list instrument codes: %w", err)
	}
	return codes, nil
}

// LastTradeDate returns the most recent stored bar time for code and period.
// ok is false when nothing is stored yet.
func (s *Store) LastTradeDate(ctx context.Context, code, period string) (time.Time, bool, error) {
	var bar models.StockDailyHistory
	err := s.db.WithContext(ctx).
		Select("trade_date").
		Where("ts_code = ? AND period = ?", code, period).
		Order("trade_date desc").
		Take(&bar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last trade date for %s: %w", code, err)
	}
	return bar.TradeDate.UTC(), true, nil
}

// ApplyBars upserts bars keyed by (ts_code, trade_date, period) and, for
// daily bars, the matching stock_daily_basic rows, all in one transaction.
// Only value columns are overwritten on conflict.
func (s *Store) ApplyBars(ctx context.Context, bars []models.StockDailyHistory) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	code := bars[0].TsCode

	basics := make([]models.StockDailyBasic, 0, len(bars))
	for _, b := range bars {
		if b.Period != "daily" {
			continue
		}
		basics = append(basics, models.StockDailyBasic{
			TsCode:    b.TsCode,
			TradeDate: b.TradeDate,
			Close:     b.Close,
			Vol:       b.Vol,
			PctChg:    b.PctChg,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ts_code"}, {Name: "trade_date"}, {Name: "period"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "pre_close", "vol", "amount", "pct_chg", "updated_at",
			}),
		}).CreateInBatches(&bars, batchSize).Error
		if err != nil {
			return fmt.Errorf("upsert stock_daily_history: %w", err)
		}

		if len(basics) == 0 {
			return nil
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ts_code"}, {Name: "trade_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"close", "vol", "pct_chg", "updated_at"}),
		}).CreateInBatches(&basics, batchSize).Error
		if err != nil {
			return fmt.Errorf("upsert stock_daily_basic: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, &StorageWriteError{Op: "apply bars", Code: code, Err: err}
	}

	s.logger.Debug().Str("code", code).Int("bars", len(bars)).Int("basics", len(basics)).Msg("Bars applied")
	return int64(len(bars)), nil
}

// ReplaceInstruments swaps the entire instrument set in one transaction.
func (s *Store) ReplaceInstruments(ctx context.Context, rows []models.StockBasic) error {
	if len(rows) == 0 {
		return ErrEmptyInstrumentSet
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.StockBasic{}).Error; err != nil {
			return fmt.Errorf("clear stock_basic: %w", err)
		}
		if err := tx.CreateInBatches(&rows, batchSize).Error; err != nil {
			return fmt.Errorf("insert stock_basic: %w", err)
		}
		return nil
	})
	if err != nil {
		return &StorageWriteError{Op: "replace instruments", Err: err}
	}

	s.logger.Info().Int("instruments", len(rows)).Msg("Instrument set replaced")
	return nil
}

// CountBars counts stored bars for one instrument and period.
func (s *Store) CountBars(ctx context.Context, code, period string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.StockDailyHistory{}).
		Where("ts_code = ? AND period = ?", code, period).
		Count(&n).Error
	return n, err
}

// InstrumentFilter narrows ListInstruments.
type InstrumentFilter struct {
	Search string // code or name substring
	Market string
	Page   int
	Limit  int
}

// ListInstruments pages through stock_basic.
func (s *Store) ListInstruments(ctx context.Context, f InstrumentFilter) ([]models.StockBasic, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 500 {
		f.Limit = 50
	}

	query := s.db.WithContext(ctx).Model(&models.StockBasic{})
	if f.Search != "" {
		like := "%" + strings.ToUpper(f.Search) + "%"
		query = query.Where("UPPER(ts_code) LIKE ? OR UPPER(name) LIKE ?", like, like)
	}
	if f.Market != "" {
		query = query.Where("market = ?", strings.ToUpper(f.Market))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.StockBasic
	err := query.Order("ts_code").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Bars returns stored bars for code within [start, end], oldest first.
// Zero bounds are open.
func (s *Store) Bars(ctx context.Context, code, period string, start, end time.Time, limit int) ([]models.StockDailyHistory, error) {
	query := s.db.WithContext(ctx).Where("ts_code = ? AND period = ?", code, period)
	if !start.IsZero() {
		query = query.Where("trade_date >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("trade_date <= ?", end)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var bars []models.StockDailyHistory
	if err := query.Order("trade_date").Find(&bars).Error; err != nil {
		return nil, err
	}
	return bars, nil
}

// LatestBasic returns the newest stock_daily_basic row for code.
func (s *Store) LatestBasic(ctx context.Context, code string) (*models.StockDailyBasic, error) {
	var row models.StockDailyBasic
	err := s.db.WithContext(ctx).
		Where("ts_code = ?", code).
		Order("trade_date desc").
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}
