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

// GoatClient implements Adapter against the GOAT partner API.
type GoatClient struct {
	http *httpClient
}

// NewGoatClient creates a new GOAT adapter.
func NewGoatClient(cfg config.ProviderConfig, credentials CredentialProvider, timeout time.Duration) *GoatClient {
	return &GoatClient{
		http: newHTTPClient(types.ProviderGoat, cfg, credentials, timeout),
	}
}

// Provider identifies the marketplace this adapter talks to.
func (c *GoatClient) Provider() types.Provider {
	return types.ProviderGoat
}

type goatProductTemplate struct {
	ID    string `json:"id"`
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	Brand string `json:"brand_name"`
	Sizes []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"sizes"`
}

type goatSearchResponse struct {
	ProductTemplates []goatProductTemplate `json:"product_templates"`
}

// SearchCatalog resolves a style ID (GOAT calls it a SKU) to a product
// template and its sizes. GOAT indexes SKUs uppercase, so the query is
// normalized before the lookup.
func (c *GoatClient) SearchCatalog(ctx context.Context, styleID string) (*models.Product, error) {
	sku := strings.ToUpper(styleID)
	path := "/api/v1/product_templates?sku=" + url.QueryEscape(sku)

	var resp goatSearchResponse
	if err := c.http.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	for _, tpl := range resp.ProductTemplates {
		if !strings.EqualFold(tpl.SKU, styleID) {
			continue
		}
		product := &models.Product{
			ProductID: tpl.ID,
			Provider:  types.ProviderGoat,
			StyleID:   tpl.SKU,
			Title:     tpl.Name,
			Brand:     tpl.Brand,
			FetchedAt: time.Now().UTC(),
		}
		for _, size := range tpl.Sizes {
			product.Variants = append(product.Variants, models.Variant{
				VariantID: size.ID,
				ProductID: tpl.ID,
				Size:      size.Value,
			})
		}
		return product, nil
	}

	return nil, apperrors.NewNotFoundError("product", styleID)
}

type goatPricingResponse struct {
	Currency           string `json:"currency"`
	LowestPriceCents   int64  `json:"lowest_price_cents"`
	HighestOfferCents  int64  `json:"highest_offer_cents"`
	LastSoldPriceCents int64  `json:"last_sold_price_cents"`
}

// FetchMarketData retrieves current pricing for one size. GOAT reports
// amounts in minor units.
func (c *GoatClient) FetchMarketData(ctx context.Context, productID, variantID string, currency types.Currency) (*MarketData, error) {
	path := fmt.Sprintf("/api/v1/product_templates/%s/sizes/%s/pricing?currency=%s",
		url.PathEscape(productID), url.PathEscape(variantID), currency)

	var resp goatPricingResponse
	if err := c.http.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &MarketData{
		Currency:   currency,
		LowestAsk:  float64(resp.LowestPriceCents) / 100,
		HighestBid: float64(resp.HighestOfferCents) / 100,
		LastSale:   float64(resp.LastSoldPriceCents) / 100,
		ObservedAt: time.Now().UTC(),
	}, nil
}

type goatOperation struct {
	ID           string `json:"id"`
	ListingID    string `json:"listing_id"`
	State        string `json:"state"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ActivateListing submits a listing activation for async processing.
func (c *GoatClient) ActivateListing(ctx context.Context, listing *models.Listing) (*models.Operation, error) {
	path := fmt.Sprintf("/api/v1/listings/%s/activate", url.PathEscape(listing.ID))

	var resp goatOperation
	if err := c.http.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}

	return &models.Operation{
		ID:        resp.ID,
		Provider:  types.ProviderGoat,
		ListingID: listing.ID,
		Status:    goatOperationStatus(resp.State),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// OperationStatus checks the provider-side state of an operation.
func (c *GoatClient) OperationStatus(ctx context.Context, operationID string) (*OperationState, error) {
	path := fmt.Sprintf("/api/v1/operations/%s", url.PathEscape(operationID))

	var resp goatOperation
	if err := c.http.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &OperationState{
		OperationID: resp.ID,
		Status:      goatOperationStatus(resp.State),
		Error:       resp.ErrorMessage,
	}, nil
}

func goatOperationStatus(s string) types.OperationStatus {
	switch strings.ToLower(s) {
	case "completed":
		return types.OperationSucceeded
	case "errored", "rejected":
		return types.OperationFailed
	default:
		return types.OperationPending
	}
}
