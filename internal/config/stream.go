package config

import "time"

// GetSocketStreamTimeout returns the hard ceiling for socket-only sessions.
func GetSocketStreamTimeout() time.Duration {
	return GetEnvDuration("STREAM_SOCKET_TIMEOUT", 90*time.Second)
}

// GetChannelStreamTimeout returns the hard ceiling for sessions promoted to a
// dedicated side channel.
func GetChannelStreamTimeout() time.Duration {
	return GetEnvDuration("STREAM_CHANNEL_TIMEOUT", 3*time.Minute)
}

// GetStaleThreshold returns the age past which an inactive session or
// recovery snapshot is considered abandoned.
func GetStaleThreshold() time.Duration {
	return GetEnvDuration("STREAM_STALE_THRESHOLD", 5*time.Minute)
}

// GetChunkMinSize returns the minimum emitted chunk size in runes.
func GetChunkMinSize() int {
	return GetEnvInt("STREAM_CHUNK_MIN_SIZE", 8)
}

// GetChunkMaxSize returns the maximum emitted chunk size in runes.
func GetChunkMaxSize() int {
	return GetEnvInt("STREAM_CHUNK_MAX_SIZE", 120)
}

// GetChunkDelay returns the pacing delay inserted between emitted chunks.
func GetChunkDelay() time.Duration {
	return GetEnvDuration("STREAM_CHUNK_DELAY", 25*time.Millisecond)
}

// GetDebugAddr returns the listen address for the debug status server.
func GetDebugAddr() string {
	return GetEnvOrDefault("STREAM_DEBUG_ADDR", ":8080")
}
