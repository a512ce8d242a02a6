package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/habituals/internal/metrics"
	"github.com/MarcoPoloResearchLab/habituals/internal/purchases"
)

const (
	functionClaim   = "claim"
	functionWebhook = "revenuecat-webhook"
	sloTagClaim     = "claim"
	sloTagWebhook   = "webhook"

	maxWebhookBodyBytes = 1 << 20
)

type healthPayload struct {
	OK        bool   `json:"ok"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

type claimRequestPayload struct {
	SKU  string `json:"sku"`
	TxID string `json:"tx_id"`
}

// functionCall records one request to a named function when it finishes.
type functionCall struct {
	handler  *httpHandler
	context  *gin.Context
	function string
	sloTag   string
	started  time.Time
}

func (h *httpHandler) startFunction(c *gin.Context, function, sloTag string) *functionCall {
	return &functionCall{handler: h, context: c, function: function, sloTag: sloTag, started: time.Now()}
}

func (f *functionCall) finish(status int, errorCode string) {
	f.handler.metrics.RecordFunction(metrics.FunctionSample{
		Function:  f.function,
		RequestID: f.context.GetString(requestIDContextKey),
		Status:    status,
		Duration:  time.Since(f.started),
		ErrorCode: errorCode,
		SLOTag:    f.sloTag,
	})
}

// respond writes the plain-text reply for err and records it.
func (f *functionCall) respond(err error) {
	status, body := purchases.Response(err)
	f.context.String(status, body)
	f.finish(status, purchases.ErrorTag(err))
}

func (h *httpHandler) serveHealth(c *gin.Context, service string) bool {
	if c.Request.Method == http.MethodGet && c.Query("health") == "1" {
		c.JSON(http.StatusOK, healthPayload{
			OK:        true,
			Service:   service,
			Timestamp: h.clock().UTC().Format(time.RFC3339Nano),
		})
		return true
	}
	return false
}

func (h *httpHandler) handleClaim(c *gin.Context) {
	if h.serveHealth(c, functionClaim) {
		return
	}
	call := h.startFunction(c, functionClaim, sloTagClaim)
	if c.Request.Method != http.MethodPost {
		c.String(http.StatusMethodNotAllowed, "POST only")
		call.finish(http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	userID, err := h.authenticate(c)
	if err != nil {
		c.String(http.StatusUnauthorized, "unauthorized")
		call.finish(http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload claimRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.String(http.StatusBadRequest, "invalid json")
		call.finish(http.StatusBadRequest, "invalid_json")
		return
	}
	if h.consumablesDisabled {
		call.respond(purchases.ErrConsumablesDisabled)
		return
	}

	wallet, err := h.claims.Claim(c.Request.Context(), purchases.ClaimRequest{
		SKU:    payload.SKU,
		TxID:   payload.TxID,
		UserID: userID,
	})
	if err != nil {
		call.respond(err)
		return
	}
	c.JSON(http.StatusOK, wallet)
	call.finish(http.StatusOK, "")
}

func (h *httpHandler) handleWebhook(c *gin.Context) {
	if h.serveHealth(c, functionWebhook) {
		return
	}
	call := h.startFunction(c, functionWebhook, sloTagWebhook)
	if c.Request.Method != http.MethodPost {
		c.String(http.StatusMethodNotAllowed, "POST only")
		call.finish(http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid body")
		call.finish(http.StatusBadRequest, "invalid_body")
		return
	}
	_, err = h.webhooks.Process(c.Request.Context(), body, c.GetHeader(purchases.SignatureHeader))
	call.respond(err)
}

func (h *httpHandler) handleWallet(c *gin.Context) {
	wallet, err := h.claims.ReadWallet(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_read_failed"})
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *httpHandler) handleEntitlements(c *gin.Context) {
	entitlement, err := h.webhooks.ReadEntitlement(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "entitlement_read_failed"})
		return
	}
	c.JSON(http.StatusOK, entitlement)
}

func (h *httpHandler) handleCaps(c *gin.Context) {
	caps, err := h.claims.CapsRemaining(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "caps_read_failed"})
		return
	}
	c.JSON(http.StatusOK, caps)
}

// handleFeatures serves the storefront flags clients read before showing purchase surfaces.
func (h *httpHandler) handleFeatures(c *gin.Context) {
	flags := make(map[string]bool, len(h.features)+1)
	for name, enabled := range h.features {
		flags[name] = enabled
	}
	flags["consumables_enabled"] = !h.consumablesDisabled
	c.JSON(http.StatusOK, flags)
}
