package config

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Transport mode values accepted in STREAM_TRANSPORT_MODE.
const (
	TransportModeSSE    = "sse"
	TransportModeSocket = "socket"
	TransportModeDual   = "dual"
)

// GetTransportMode returns the preferred transport mode for new streams.
// Unknown values fall back to dual so neither transport is silently lost.
func GetTransportMode() string {
	value := strings.ToLower(GetEnvOrDefault("STREAM_TRANSPORT_MODE", TransportModeDual))
	switch value {
	case TransportModeSSE, TransportModeSocket, TransportModeDual:
		return value
	default:
		log.Warn().Str("mode", value).Msg("Unknown transport mode, falling back to dual")
		return TransportModeDual
	}
}

// GetChatCompletionsURL returns the HTTP streaming endpoint.
func GetChatCompletionsURL() string {
	return GetEnvOrDefault("CHAT_COMPLETIONS_URL", "")
}

// GetSocketURL returns the realtime push channel endpoint.
func GetSocketURL() string {
	return GetEnvOrDefault("CHAT_SOCKET_URL", "")
}

// GetContinuationURL returns the endpoint used to resume interrupted streams.
func GetContinuationURL() string {
	return GetEnvOrDefault("CHAT_CONTINUATION_URL", "")
}

// GetHistoryURL returns the conversation history store base URL.
func GetHistoryURL() string {
	return GetEnvOrDefault("CHAT_HISTORY_URL", "")
}

// GetAuthToken returns the bearer token presented to all transports.
func GetAuthToken() string {
	value := GetEnvOrDefault("CHAT_AUTH_TOKEN", "")
	if value == "" {
		log.Warn().Msg("CHAT_AUTH_TOKEN not set - transports will connect unauthenticated")
	}
	return value
}
