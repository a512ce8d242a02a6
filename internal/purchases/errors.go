package purchases

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/habituals/internal/users"
)

var (
	ErrInvalidClaim        = errors.New("purchases: missing sku or tx_id")
	ErrPurchaseNotFound    = errors.New("purchases: purchase not found")
	ErrCapExceeded         = errors.New("purchases: cap exceeded")
	ErrSKUNotClaimable     = errors.New("purchases: sku not claimable")
	ErrConsumablesDisabled = errors.New("purchases: consumables disabled")
	ErrInvalidSignature    = errors.New("purchases: invalid signature")
	ErrInvalidPayload      = errors.New("purchases: invalid payload")
	ErrUserMappingMismatch = users.ErrUserMappingMismatch

	errMissingDatabase = errors.New("database handle is required")
	errMissingSecret   = errors.New("webhook secret is required")
	errMissingBindings = errors.New("binding service is required")
)

// ServiceError reports a persistence failure with an "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opClaimNew      = "purchases.claim.new"
	opClaim         = "purchases.claim"
	opCapsRemaining = "purchases.caps_remaining"
	opReadWallet    = "purchases.read_wallet"
	opWebhookNew    = "purchases.webhook.new"
	opWebhook       = "purchases.webhook"
	opReadEntitle   = "purchases.read_entitlement"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Response maps a claim or webhook error onto the plain-text HTTP reply clients match on.
func Response(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Is(err, ErrInvalidClaim):
		return http.StatusBadRequest, "missing sku or tx_id"
	case errors.Is(err, ErrPurchaseNotFound):
		return http.StatusNotFound, "purchase not found"
	case errors.Is(err, ErrCapExceeded):
		return http.StatusConflict, "cap exceeded"
	case errors.Is(err, ErrSKUNotClaimable):
		return http.StatusBadRequest, "sku not claimable"
	case errors.Is(err, ErrConsumablesDisabled):
		return http.StatusForbidden, "consumables disabled"
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest, "invalid json"
	case errors.Is(err, ErrUserMappingMismatch):
		return http.StatusForbidden, "user mapping mismatch"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// ErrorTag is the short error code recorded in request metrics.
func ErrorTag(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidClaim):
		return "missing_parameters"
	case errors.Is(err, ErrPurchaseNotFound):
		return "purchase_not_found"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, ErrSKUNotClaimable):
		return "sku_not_claimable"
	case errors.Is(err, ErrConsumablesDisabled):
		return "consumables_disabled"
	case errors.Is(err, ErrInvalidSignature):
		return "signature_invalid"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_json"
	case errors.Is(err, ErrUserMappingMismatch):
		return "user_mapping_mismatch"
	default:
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			return serviceErr.Code()
		}
		return "internal_error"
	}
}
