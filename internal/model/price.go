package model

// PriceEntry is the normalized quote record produced by the resolution engine.
// Current is 0 when nothing could be resolved; see Empty.
type PriceEntry struct {
	Current       float64  `json:"current"`
	PreviousClose *float64 `json:"previous_close"`
	Change        *float64 `json:"change"`
	ChangePct     *float64 `json:"change_pct"`
	LongName      *string  `json:"long_name"`
	Currency      *string  `json:"currency"`
	Price10d      *float64 `json:"price_10d"`
	Change10dPct  *float64 `json:"change_10d_pct"`
	Price1y       *float64 `json:"price_1y"`
	Change1yPct   *float64 `json:"change_1y_pct"`
}

// EmptyPrice is the sentinel returned when every source failed.
func EmptyPrice() PriceEntry { return PriceEntry{} }

// Empty reports whether e is the unresolved sentinel.
func (e PriceEntry) Empty() bool {
	return e.Current == 0 &&
		e.PreviousClose == nil && e.Change == nil && e.ChangePct == nil &&
		e.LongName == nil && e.Currency == nil &&
		e.Price10d == nil && e.Change10dPct == nil &&
		e.Price1y == nil && e.Change1yPct == nil
}

// Resolved reports whether e carries a usable live price.
func (e PriceEntry) Resolved() bool { return e.Current != 0 }

// WithPreviousClose sets the previous close and derives the day change.
// ChangePct stays nil when prev is zero.
func (e PriceEntry) WithPreviousClose(prev *float64) PriceEntry {
	e.PreviousClose = prev
	e.Change, e.ChangePct = nil, nil
	if prev == nil {
		return e
	}
	change := e.Current - *prev
	e.Change = &change
	if *prev != 0 {
		pct := change / *prev * 100
		e.ChangePct = &pct
	}
	return e
}

// Clone returns a deep copy of e, so the copy shares no pointers with e.
func (e PriceEntry) Clone() PriceEntry {
	e.PreviousClose = cloneFloat(e.PreviousClose)
	e.Change = cloneFloat(e.Change)
	e.ChangePct = cloneFloat(e.ChangePct)
	e.LongName = cloneString(e.LongName)
	e.Currency = cloneString(e.Currency)
	e.Price10d = cloneFloat(e.Price10d)
	e.Change10dPct = cloneFloat(e.Change10dPct)
	e.Price1y = cloneFloat(e.Price1y)
	e.Change1yPct = cloneFloat(e.Change1yPct)
	return e
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
