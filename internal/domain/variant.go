package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Variant is one purchasable configuration of a product and the unit of
// stock control. Counters change only inside an exclusive section.
type Variant struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	VendorID          string    `json:"vendor_id"`
	SKU               string    `json:"sku"`
	StockQuantity     int       `json:"stock_quantity"`
	ReservedQuantity  int       `json:"reserved_quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Available is stock on hand minus stock held by active reservations.
func (v *Variant) Available() int {
	return v.StockQuantity - v.ReservedQuantity
}

// CheckInvariant verifies 0 <= reserved <= stock.
func (v *Variant) CheckInvariant() error {
	if v.ReservedQuantity < 0 || v.StockQuantity < v.ReservedQuantity {
		return fmt.Errorf("variant %s violates 0 <= reserved (%d) <= stock (%d)",
			v.ID, v.ReservedQuantity, v.StockQuantity)
	}
	return nil
}

// MarshalJSON adds the derived available_quantity.
func (v Variant) MarshalJSON() ([]byte, error) {
	type plain Variant
	return json.Marshal(struct {
		plain
		AvailableQuantity int `json:"available_quantity"`
	}{plain(v), v.Available()})
}

// CatalogUpdate carries product level attributes owned by the catalog.
// Nil fields are left unchanged.
type CatalogUpdate struct {
	ProductID         string
	LowStockThreshold *int
	IsActive          *bool
}
