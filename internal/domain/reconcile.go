package domain

// ChainBreak marks a movement whose previous quantity does not continue the
// running total of its counter.
type ChainBreak struct {
	Sequence int64   `json:"sequence"`
	Counter  Counter `json:"counter"`
	Expected int     `json:"expected"`
	Recorded int     `json:"recorded"`
}

// Replay folds movements (in sequence order) starting from zero counters and
// returns the resulting stock and reserved quantities plus any breaks in the
// previous/new chain.
func Replay(movements []Movement) (stock, reserved int, breaks []ChainBreak) {
	for i := range movements {
		m := &movements[i]
		running := &stock
		if m.Counter == CounterReserved {
			running = &reserved
		}
		if m.PreviousQuantity != *running {
			breaks = append(breaks, ChainBreak{
				Sequence: m.Sequence,
				Counter:  m.Counter,
				Expected: *running,
				Recorded: m.PreviousQuantity,
			})
		}
		*running += m.QuantityDelta
	}
	return stock, reserved, breaks
}

// Reconciliation compares a variant's stored counters to its replayed log.
type Reconciliation struct {
	VariantID        string       `json:"variant_id"`
	StockQuantity    int          `json:"stock_quantity"`
	ReplayedStock    int          `json:"replayed_stock"`
	ReservedQuantity int          `json:"reserved_quantity"`
	ReplayedReserved int          `json:"replayed_reserved"`
	MovementCount    int          `json:"movement_count"`
	Breaks           []ChainBreak `json:"breaks,omitempty"`
	Consistent       bool         `json:"consistent"`
}

// Reconcile replays movements and compares the result with v.
func Reconcile(v *Variant, movements []Movement) Reconciliation {
	stock, reserved, breaks := Replay(movements)
	return Reconciliation{
		VariantID:        v.ID,
		StockQuantity:    v.StockQuantity,
		ReplayedStock:    stock,
		ReservedQuantity: v.ReservedQuantity,
		ReplayedReserved: reserved,
		MovementCount:    len(movements),
		Breaks:           breaks,
		Consistent:       stock == v.StockQuantity && reserved == v.ReservedQuantity && len(breaks) == 0,
	}
}
