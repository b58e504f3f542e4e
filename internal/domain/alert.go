package domain

// AlertStatus is the stock level class of a variant.
type AlertStatus string

const (
	AlertInStock    AlertStatus = "in_stock"
	AlertLowStock   AlertStatus = "low_stock"
	AlertOutOfStock AlertStatus = "out_of_stock"
)

// Valid reports whether s is a known status.
func (s AlertStatus) Valid() bool {
	return s == AlertInStock || s == AlertLowStock || s == AlertOutOfStock
}

// Classify maps an available quantity to a status: out of stock at zero,
// low at or below threshold, otherwise in stock.
func Classify(available, threshold int) AlertStatus {
	switch {
	case available <= 0:
		return AlertOutOfStock
	case available <= threshold:
		return AlertLowStock
	default:
		return AlertInStock
	}
}

// Alert is the projection of one variant's current stock level. It is
// computed on read and never stored.
type Alert struct {
	VariantID         string      `json:"variant_id"`
	ProductID         string      `json:"product_id"`
	VendorID          string      `json:"vendor_id"`
	SKU               string      `json:"sku"`
	StockQuantity     int         `json:"stock_quantity"`
	ReservedQuantity  int         `json:"reserved_quantity"`
	AvailableQuantity int         `json:"available_quantity"`
	Threshold         int         `json:"threshold"`
	Status            AlertStatus `json:"status"`
	IsActive          bool        `json:"is_active"`
}

// AlertFor projects v.
func AlertFor(v *Variant) Alert {
	available := v.Available()
	return Alert{
		VariantID:         v.ID,
		ProductID:         v.ProductID,
		VendorID:          v.VendorID,
		SKU:               v.SKU,
		StockQuantity:     v.StockQuantity,
		ReservedQuantity:  v.ReservedQuantity,
		AvailableQuantity: available,
		Threshold:         v.LowStockThreshold,
		Status:            Classify(available, v.LowStockThreshold),
		IsActive:          v.IsActive,
	}
}

// AlertFilter narrows the alert query. Zero fields match all; inactive
// variants are excluded unless IncludeInactive is set.
type AlertFilter struct {
	VendorID        string
	ProductID       string
	Status          AlertStatus
	IncludeInactive bool
}

// Matches reports whether v passes the filter.
func (f AlertFilter) Matches(v *Variant) bool {
	switch {
	case !f.IncludeInactive && !v.IsActive:
		return false
	case f.VendorID != "" && v.VendorID != f.VendorID:
		return false
	case f.ProductID != "" && v.ProductID != f.ProductID:
		return false
	case f.Status != "" && Classify(v.Available(), v.LowStockThreshold) != f.Status:
		return false
	}
	return true
}
