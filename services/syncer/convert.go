package syncer

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"ashare_backend/models"
	"ashare_backend/services/codes"
	"ashare_backend/services/upstream"
)

var (
	// Volume arrives in shares, stored in lots.
	sharesPerLot = decimal.NewFromInt(100)
	// Amount arrives in yuan, stored in thousands.
	yuanPerUnit = decimal.NewFromInt(1000)

	// Main boards, ChiNext and STAR.
	supportedPrefix = regexp.MustCompile(`^(sh\.60|sz\.00|sz\.30|sh\.68)`)
)

// toHistory converts provider rows for storageCode into history records.
// A bar repeated within one fetch keeps the last row, since one upsert
// statement cannot touch the same key twice.
func toHistory(storageCode string, rows []upstream.BarRow, g upstream.Granularity) ([]models.StockDailyHistory, error) {
	period := g.Period()
	bars := make([]models.StockDailyHistory, 0, len(rows))
	seen := make(map[int64]int, len(rows))
	for _, r := range rows {
		code := storageCode
		if r.Code != "" {
			c, err := codes.ToStorage(r.Code)
			if err != nil {
				return nil, err
			}
			if c != storageCode {
				return nil, fmt.Errorf("provider returned %s for %s", c, storageCode)
			}
			code = c
		}
		bar := models.StockDailyHistory{
			TsCode:    code,
			TradeDate: r.Time,
			Period:    period,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			PreClose:  r.PreClose,
			Vol:       r.Volume.Div(sharesPerLot),
			Amount:    r.Amount.Div(yuanPerUnit),
			PctChg:    r.PctChg,
		}
		key := r.Time.UnixNano()
		if i, dup := seen[key]; dup {
			bars[i] = bar
			continue
		}
		seen[key] = len(bars)
		bars = append(bars, bar)
	}
	return bars, nil
}

// toStockBasics keeps listed stocks on the two supported exchanges.
func toStockBasics(rows []upstream.StockBasicRow) []models.StockBasic {
	out := make([]models.StockBasic, 0, len(rows))
	for _, r := range rows {
		if r.Status != "1" || r.Type != "1" {
			continue
		}
		code, err := codes.ToStorage(r.Code)
		if err != nil {
			continue
		}
		market := code[len(code)-2:]
		if market != "SH" && market != "SZ" {
			continue
		}
		b := models.StockBasic{
			TsCode: code,
			Name:   r.Name,
			Market: market,
			Type:   r.Type,
			Status: r.Status,
		}
		if !r.IPODate.IsZero() {
			d := r.IPODate
			b.ListDate = &d
		}
		if !r.OutDate.IsZero() {
			d := r.OutDate
			b.DelistDate = &d
		}
		out = append(out, b)
	}
	return out
}
