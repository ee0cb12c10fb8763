// Package sse consumes the HTTP streaming transport: a chat-completions
// request whose response body is a sequence of data: lines terminated by a
// [DONE] sentinel.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/parakeetlabs/streamcore/internal/events"
	"github.com/parakeetlabs/streamcore/pkg/httpext"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

type Client struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewClient(url, token string) *Client {
	return &Client{
		url:        url,
		token:      token,
		httpClient: &http.Client{},
	}
}

// StreamRequest carries the outbound chat request parameters.
type StreamRequest struct {
	Model    string
	Messages []openai.ChatCompletionMessage
}

// Stream issues the streaming request and returns normalized events.
// accumulated supplies the session's current content for duplicate tool
// banner suppression. The channel closes when the server stream ends; a
// close without a preceding Done or Error event means the transport was
// interrupted.
func (c *Client) Stream(ctx context.Context, req StreamRequest, accumulated func() string) (<-chan events.Event, error) {
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, events.NewStreamError(events.KindTransport, "streaming request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, events.NewStreamError(events.KindTransport, "streaming request rejected", httpext.DecodeError(resp))
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			for _, ev := range events.ParseSSELine(scanner.Text(), accumulated()) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			// The consumer sees the channel close without a terminal event
			// and treats the session as interrupted.
			log.Warn().Err(err).Msg("HTTP stream read failed")
		}
	}()
	return out, nil
}
