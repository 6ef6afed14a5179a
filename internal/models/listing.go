package models

import (
	"time"

	"github.com/market-sync/internal/types"
)

// Listing is the local record of a marketplace listing for one variant.
type Listing struct {
	ID        string              `json:"id" db:"id"` // provider-assigned
	Provider  types.Provider      `json:"provider" db:"provider"`
	ProductID string              `json:"productId" db:"product_id"`
	VariantID string              `json:"variantId" db:"variant_id"`
	Status    types.ListingStatus `json:"status" db:"status"`
	AskPrice  float64             `json:"askPrice" db:"ask_price"`
	Currency  types.Currency      `json:"currency" db:"currency"`
	UpdatedAt time.Time           `json:"updatedAt" db:"updated_at"`
}
