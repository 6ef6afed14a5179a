package models

import (
	"time"

	"github.com/market-sync/internal/types"
)

// PriceSnapshot is one observed market data point. Snapshots are
// append-only: "latest" is always derived, never updated in place.
type PriceSnapshot struct {
	Provider   types.Provider `json:"provider" db:"provider"`
	ProductID  string         `json:"productId" db:"product_id"`
	VariantID  string         `json:"variantId" db:"variant_id"`
	Currency   types.Currency `json:"currency" db:"currency"`
	LowestAsk  float64        `json:"lowestAsk" db:"lowest_ask"`
	HighestBid float64        `json:"highestBid" db:"highest_bid"`
	LastSale   float64        `json:"lastSale" db:"last_sale"`
	ObservedAt time.Time      `json:"observedAt" db:"observed_at"`
}

// LatestPrice is one row of the materialized latest-price aggregate,
// rebuildable at any time from the snapshot stream.
type LatestPrice struct {
	Provider    types.Provider `json:"provider" db:"provider"`
	ProductID   string         `json:"productId" db:"product_id"`
	VariantID   string         `json:"variantId" db:"variant_id"`
	Currency    types.Currency `json:"currency" db:"currency"`
	LowestAsk   float64        `json:"lowestAsk" db:"lowest_ask"`
	HighestBid  float64        `json:"highestBid" db:"highest_bid"`
	LastSale    float64        `json:"lastSale" db:"last_sale"`
	ObservedAt  time.Time      `json:"observedAt" db:"observed_at"`
	RefreshedAt time.Time      `json:"refreshedAt" db:"refreshed_at"`
}
