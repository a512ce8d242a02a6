package purchases

import (
	"context"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
	"github.com/MarcoPoloResearchLab/habituals/internal/httpclient"
)

// StoreClient is the client side of the purchase endpoints. Claim failures
// surface as the store codes CAP_EXCEEDED, PURCHASE_NOT_FOUND, INVALID_SKU or NETWORK_ERROR.
type StoreClient struct {
	client *httpclient.Client
}

func NewStoreClient(client *httpclient.Client) *StoreClient {
	return &StoreClient{client: client}
}

// Claim asks the server to apply a purchased consumable and returns the resulting wallet.
func (c *StoreClient) Claim(ctx context.Context, sku, txID string) (Wallet, error) {
	sku = strings.TrimSpace(sku)
	txID = strings.TrimSpace(txID)
	if sku == "" || txID == "" {
		return Wallet{}, dataerr.New(dataerr.CodeInvalidSKU, "missing sku or tx_id")
	}
	var wallet Wallet
	request := ClaimRequest{SKU: sku, TxID: txID}
	if err := c.client.DoWith(ctx, http.MethodPost, "/claim", request, &wallet, dataerr.ClassifyClaimResponse); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

func (c *StoreClient) Wallet(ctx context.Context) (Wallet, error) {
	var wallet Wallet
	if err := c.client.Do(ctx, http.MethodGet, "/wallet", nil, &wallet); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

func (c *StoreClient) Entitlement(ctx context.Context) (Entitlement, error) {
	var entitlement Entitlement
	if err := c.client.Do(ctx, http.MethodGet, "/entitlements", nil, &entitlement); err != nil {
		return Entitlement{}, err
	}
	return entitlement, nil
}

func (c *StoreClient) CapsRemaining(ctx context.Context) (Caps, error) {
	var caps Caps
	if err := c.client.Do(ctx, http.MethodGet, "/caps", nil, &caps); err != nil {
		return Caps{}, err
	}
	return caps, nil
}
