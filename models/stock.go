package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockBasic is one listed A-share instrument, keyed by storage code
// ("600000.SH").
type StockBasic struct {
	TsCode     string     `gorm:"primaryKey;size:16" json:"ts_code"`
	Name       string     `json:"name"`
	ListDate   *time.Time `json:"list_date"`
	DelistDate *time.Time `json:"delist_date"`
	Market     string     `gorm:"size:8" json:"market"` // SH, SZ, BJ
	Type       string     `gorm:"size:4" json:"type"`   // 1 stock, 2 index
	Status     string     `gorm:"size:4" json:"status"` // 1 listed, 0 delisted
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (StockBasic) TableName() string {
	return "stock_basic"
}

// StockDailyHistory is one OHLCV bar. TradeDate is the exchange wall clock
// stored as UTC; daily bars sit at midnight.
type StockDailyHistory struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	TsCode    string          `gorm:"size:16;not null;uniqueIndex:uk_history_code_date_period,priority:1" json:"ts_code"`
	TradeDate time.Time       `gorm:"not null;uniqueIndex:uk_history_code_date_period,priority:2;index" json:"trade_date"`
	Period    string          `gorm:"size:8;not null;default:daily;uniqueIndex:uk_history_code_date_period,priority:3" json:"period"`
	Open      decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	High      decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low       decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Close     decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	PreClose  decimal.Decimal `gorm:"type:decimal(15,4)" json:"pre_close"`
	Vol       decimal.Decimal `gorm:"type:decimal(20,4)" json:"vol"`    // lots (100 shares)
	Amount    decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"` // thousand yuan
	PctChg    decimal.Decimal `gorm:"type:decimal(10,4)" json:"pct_chg"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (StockDailyHistory) TableName() string {
	return "stock_daily_history"
}

// StockDailyBasic is the per-day latest-close projection read by the
// screening queries.
type StockDailyBasic struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	TsCode    string          `gorm:"size:16;not null;uniqueIndex:uk_basic_code_date,priority:1" json:"ts_code"`
	TradeDate time.Time       `gorm:"not null;uniqueIndex:uk_basic_code_date,priority:2" json:"trade_date"`
	Close     decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	Vol       decimal.Decimal `gorm:"type:decimal(20,4)" json:"vol"`
	PctChg    decimal.Decimal `gorm:"type:decimal(10,4)" json:"pct_chg"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (StockDailyBasic) TableName() string {
	return "stock_daily_basic"
}

// MigrateMarketModels runs database migrations for market-data models
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&StockBasic{},
		&StockDailyHistory{},
		&StockDailyBasic{},
	)
}
