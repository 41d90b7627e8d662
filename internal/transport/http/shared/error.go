package shared

import (
	"errors"
	"net/http"

	"authcore/internal/transport/http/json"
	dErrors "authcore/pkg/domain-errors"
)

// WriteError centralizes domain error translation to HTTP responses, so
// handlers return transport-agnostic errors.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		json.WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), response)
		return
	}

	json.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates lifecycle error codes to HTTP statuses.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeAuthentication:
		return http.StatusUnauthorized
	case dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeRateLimit:
		return http.StatusTooManyRequests
	case dErrors.CodeConnectivity, dErrors.CodeService:
		return http.StatusBadGateway
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
