package models

import (
	"time"

	"github.com/market-sync/internal/types"
)

// Product is the locally persisted catalog identity for one style on one
// provider, hydrated lazily through the read-through catalog cache.
type Product struct {
	ProductID string         `json:"productId" db:"product_id"` // provider-assigned
	Provider  types.Provider `json:"provider" db:"provider"`
	StyleID   string         `json:"styleId" db:"style_id"`
	Title     string         `json:"title" db:"title"`
	Brand     string         `json:"brand" db:"brand"`
	Variants  []Variant      `json:"variants"`
	FetchedAt time.Time      `json:"fetchedAt" db:"fetched_at"`
}

// Variant is one sellable size of a product.
type Variant struct {
	VariantID string `json:"variantId" db:"variant_id"` // provider-assigned
	ProductID string `json:"productId" db:"product_id"`
	Size      string `json:"size" db:"size"`
}

// FindVariant returns the variant matching size, or nil.
func (p *Product) FindVariant(size string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].Size == size {
			return &p.Variants[i]
		}
	}
	return nil
}
