// Package history is the client for the conversation history store. The
// streaming core uses it as a completion fallback: when a server signals
// Done before any delta was observed, the finalized message content is
// fetched here by id.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/parakeetlabs/streamcore/pkg/httpext"
	"github.com/rs/zerolog/log"
)

type Service struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewService(baseURL, token string) *Service {
	if baseURL == "" {
		log.Warn().Msg("History URL not configured - completion fallback will be unavailable")
		return nil
	}
	return &Service{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
	}
}

type messageResponse struct {
	Content string `json:"content"`
}

// MessageContent fetches the finalized content of a message by id.
func (s *Service) MessageContent(ctx context.Context, conversationID, messageID string) (string, error) {
	url := fmt.Sprintf("%s/conversations/%s/messages/%s", s.baseURL, conversationID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("history fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", httpext.DecodeError(resp)
	}

	var msg messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", fmt.Errorf("failed to decode message: %w", err)
	}
	return msg.Content, nil
}
