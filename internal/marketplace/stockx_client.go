package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/market-sync/internal/config"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// StockXClient implements Adapter against the StockX public API.
type StockXClient struct {
	http *httpClient
}

// NewStockXClient creates a new StockX adapter.
func NewStockXClient(cfg config.ProviderConfig, credentials CredentialProvider, timeout time.Duration) *StockXClient {
	return &StockXClient{
		http: newHTTPClient(types.ProviderStockX, cfg, credentials, timeout),
	}
}

// Provider identifies the marketplace this adapter talks to.
func (c *StockXClient) Provider() types.Provider {
	return types.ProviderStockX
}

type stockxProduct struct {
	ProductID string `json:"productId"`
	StyleID   string `json:"styleId"`
	Title     string `json:"title"`
	Brand     string `json:"brand"`
	Variants  []struct {
		VariantID    string `json:"variantId"`
		VariantValue string `json:"variantValue"`
	} `json:"variants"`
}

type stockxSearchResponse struct {
	Products []stockxProduct `json:"products"`
	Count    int             `json:"count"`
}

// SearchCatalog resolves a style ID to a product and its variants.
func (c *StockXClient) SearchCatalog(ctx context.Context, styleID string) (*models.Product, error) {
	path := "/v2/catalog/search?query=" + url.QueryEscape(styleID)

	var resp stockxSearchResponse
	if err := c.http.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	for _, p := range resp.Products {
		if !strings.EqualFold(p.StyleID, styleID) {
			continue
		}
		product := &models.Product{
			ProductID: p.ProductID,
			Provider:  types.ProviderStockX,
			StyleID:   p.StyleID,
			Title:     p.Title,
			Brand:     p.Brand,
			FetchedAt: time.Now().UTC(),
		}
		for _, v := range p.Variants {
			product.Variants = append(product.Variants, models.Variant{
				VariantID: v.VariantID,
				ProductID: p.ProductID,
				Size:      v.VariantValue,
			})
		}
		return product, nil
	}

	return nil, apperrors.NewNotFoundError("product", styleID)
}

type stockxMarketData struct {
	CurrencyCode     string  `json:"currencyCode"`
	LowestAskAmount  float64 `json:"lowestAskAmount"`
	HighestBidAmount float64 `json:"highestBidAmount"`
	LastSaleAmount   float64 `json:"lastSaleAmount"`
}

// FetchMarketData retrieves current pricing for one variant.
func (c *StockXClient) FetchMarketData(ctx context.Context, productID, variantID string, currency types.Currency) (*MarketData, error) {
	path := fmt.Sprintf("/v2/catalog/products/%s/variants/%s/market-data?currencyCode=%s",
		url.PathEscape(productID), url.PathEscape(variantID), currency)

	var resp stockxMarketData
	if err := c.http.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &MarketData{
		Currency:   currency,
		LowestAsk:  resp.LowestAskAmount,
		HighestBid: resp.HighestBidAmount,
		LastSale:   resp.LastSaleAmount,
		ObservedAt: time.Now().UTC(),
	}, nil
}

type stockxOperation struct {
	OperationID     string `json:"operationId"`
	ListingID       string `json:"listingId"`
	OperationStatus string `json:"operationStatus"`
	Error           string `json:"error,omitempty"`
}

// ActivateListing submits a listing activation. StockX processes the
// activation asynchronously and answers with an operation to poll.
func (c *StockXClient) ActivateListing(ctx context.Context, listing *models.Listing) (*models.Operation, error) {
	path := fmt.Sprintf("/v2/selling/listings/%s/activate", url.PathEscape(listing.ID))

	var resp stockxOperation
	if err := c.http.doJSON(ctx, http.MethodPut, path, nil, &resp); err != nil {
		return nil, err
	}

	return &models.Operation{
		ID:        resp.OperationID,
		Provider:  types.ProviderStockX,
		ListingID: listing.ID,
		Status:    stockxOperationStatus(resp.OperationStatus),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// OperationStatus checks the provider-side state of an operation.
func (c *StockXClient) OperationStatus(ctx context.Context, operationID string) (*OperationState, error) {
	path := fmt.Sprintf("/v2/selling/operations/%s", url.PathEscape(operationID))

	var resp stockxOperation
	if err := c.http.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &OperationState{
		OperationID: resp.OperationID,
		Status:      stockxOperationStatus(resp.OperationStatus),
		Error:       resp.Error,
	}, nil
}

func stockxOperationStatus(s string) types.OperationStatus {
	switch strings.ToUpper(s) {
	case "SUCCEEDED":
		return types.OperationSucceeded
	case "FAILED":
		return types.OperationFailed
	default:
		return types.OperationPending
	}
}
