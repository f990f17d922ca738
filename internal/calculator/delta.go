package calculator

import "PortfolioLens/internal/model"

// tenDayOffset is how many trading days back the 10-day reference sits.
const tenDayOffset = 10

// TenDayReference returns the close ten trading days before the last one.
// Shorter series fall back to their oldest close.
func TenDayReference(closes []float64) *float64 {
	if len(closes) == 0 {
		return nil
	}
	i := len(closes) - 1 - tenDayOffset
	if i < 0 {
		i = 0
	}
	return model.Float(closes[i])
}

// OneYearReference returns the first close of a one-year daily window.
func OneYearReference(closes []float64) *float64 {
	if len(closes) == 0 {
		return nil
	}
	return model.Float(closes[0])
}

// ChangePct returns the percentage move from ref to current, or nil when
// there is no usable reference.
func ChangePct(current float64, ref *float64) *float64 {
	if ref == nil || *ref == 0 {
		return nil
	}
	return model.Float((current - *ref) / *ref * 100)
}

// Fill sets the 10-day and 1-year references of e from a one-year daily
// series sorted by date. Unresolved entries are returned unchanged.
func Fill(e model.PriceEntry, history []model.HistoryPoint) model.PriceEntry {
	if !e.Resolved() || len(history) == 0 {
		return e
	}
	closes := model.Closes(history)
	e.Price10d = TenDayReference(closes)
	e.Change10dPct = ChangePct(e.Current, e.Price10d)
	e.Price1y = OneYearReference(closes)
	e.Change1yPct = ChangePct(e.Current, e.Price1y)
	return e
}
