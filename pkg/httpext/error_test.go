package httpext

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{
			name:   "json error body",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid_request"}`,
			want:   "server returned 400: invalid_request",
		},
		{
			name:   "json error with description",
			status: http.StatusUnauthorized,
			body:   `{"error":"expired_token","error_description":"token expired at 10:00"}`,
			want:   "server returned 401: expired_token: token expired at 10:00",
		},
		{
			name:   "plain text body",
			status: http.StatusBadGateway,
			body:   "upstream unavailable",
			want:   "server returned 502: upstream unavailable",
		},
		{
			name:   "empty body",
			status: http.StatusInternalServerError,
			body:   "",
			want:   "server returned 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DecodeError(response(tt.status, tt.body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.want {
				t.Errorf("DecodeError() = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}
