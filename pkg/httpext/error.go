package httpext

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 8 << 10

// ErrorResponse represents a standardised JSON error response
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// DecodeError converts a non-2xx HTTP response into an error, preferring the
// server's JSON error body and falling back to the raw body or status.
func DecodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		if er.ErrorDescription != "" {
			return fmt.Errorf("server returned %d: %s: %s", resp.StatusCode, er.Error, er.ErrorDescription)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, er.Error)
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, text)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
