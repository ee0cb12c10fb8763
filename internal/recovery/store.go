package recovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/parakeetlabs/streamcore/internal/infrastructure/redis"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix = "streamcore:recovery:"

	// snapshotTTL is deliberately much longer than the staleness threshold:
	// stale snapshots are filtered on read, the TTL only stops truly dead
	// keys from accumulating.
	snapshotTTL = 24 * time.Hour
)

// Store persists recovery snapshots across process restarts.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	List(ctx context.Context) ([]Snapshot, error)
	Delete(ctx context.Context, streamID string) error
}

type RedisStore struct {
	redisService *redis.Service
}

type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewStore selects Redis-backed storage when available, falling back to
// memory. A memory store loses snapshots on process exit but still covers
// in-process transport interruptions.
func NewStore(redisService *redis.Service) Store {
	if redisService != nil {
		if err := redisService.Ping(context.Background()); err == nil {
			return &RedisStore{redisService: redisService}
		}
	}
	log.Warn().Msg("Recovery snapshots will not survive process restarts - using memory store")
	return NewMemoryStore()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// Redis Store implementation
func (rs *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return rs.redisService.Set(ctx, keyPrefix+snap.StreamID, string(data), snapshotTTL)
}

func (rs *RedisStore) List(ctx context.Context) ([]Snapshot, error) {
	keys, err := rs.redisService.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		data, err := rs.redisService.Get(ctx, key)
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}

		var snap Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			// A corrupt snapshot is unrecoverable; drop it rather than
			// blocking every startup scan.
			log.Warn().Err(err).Str("key", key).Msg("Dropping corrupt recovery snapshot")
			_ = rs.redisService.Delete(ctx, key)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (rs *RedisStore) Delete(ctx context.Context, streamID string) error {
	return rs.redisService.Delete(ctx, keyPrefix+streamID)
}

// Memory Store implementation
func (ms *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.snapshots[snap.StreamID] = snap
	return nil
}

func (ms *MemoryStore) List(ctx context.Context) ([]Snapshot, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	snapshots := make([]Snapshot, 0, len(ms.snapshots))
	for _, snap := range ms.snapshots {
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (ms *MemoryStore) Delete(ctx context.Context, streamID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.snapshots, streamID)
	return nil
}
