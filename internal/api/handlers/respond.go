// Package handlers implements the HTTP endpoints for the key server.
// Responses carry only public codec-derived identifiers; internal row
// ids never leave the process.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/uid"
)

// decodePublicID validates a public identifier strictly and recovers
// the internal id embedded in it.
func decodePublicID(s string) (int64, error) {
	if _, err := uid.Parse(s); err != nil {
		return 0, err
	}
	return uid.ToID(s)
}

// errorBody is the uniform error payload. Code is stable across
// releases so clients can branch on the failure kind.
type errorBody struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	SupportMessage string `json:"support_message,omitempty"`
}

func statusFor(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "disabled", "expired", "exhausted", "hardware_mismatch":
		return http.StatusForbidden
	case "duplicate_token", "duplicate_name":
		return http.StatusConflict
	case "bad_expiry", "bad_id", "invalid_request":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := keys.Code(err)
	body := errorBody{Error: err.Error(), Code: code}
	if code == "internal" {
		// Do not leak wrapped driver errors to clients.
		body.Error = "internal error"
	}
	c.JSON(statusFor(code), body)
}
