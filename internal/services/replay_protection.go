package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"subscription-api/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// ReplayProtection remembers processed webhook event ids. Redis is used when
// available so every instance shares the record; otherwise the record is
// kept in process memory.
type ReplayProtection struct {
	client          *redis.Client
	processedEvents map[string]time.Time
	mutex           sync.Mutex
	cleanupInterval time.Duration
	eventTTL        time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewReplayProtection creates a replay guard. client may be nil.
func NewReplayProtection(client *redis.Client) *ReplayProtection {
	rp := &ReplayProtection{
		client:          client,
		processedEvents: make(map[string]time.Time),
		cleanupInterval: time.Hour,
		eventTTL:        24 * time.Hour,
		stopCleanup:     make(chan struct{}),
	}

	if client == nil {
		go rp.startCleanupRoutine()
	}

	return rp
}

// IsReplay records eventID and reports whether it had already been seen
func (rp *ReplayProtection) IsReplay(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		logging.Infof("Event id is empty, skipping replay check")
		return false, nil
	}

	key := rp.generateEventKey(eventID)

	if rp.client != nil {
		fresh, err := rp.client.SetNX(ctx, key, time.Now().Unix(), rp.eventTTL).Result()
		if err != nil {
			return false, fmt.Errorf("failed to record webhook event: %w", err)
		}
		if !fresh {
			logging.Infof("Replay detected - event_id: %s", eventID)
		}
		return !fresh, nil
	}

	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if processedTime, exists := rp.processedEvents[key]; exists {
		logging.Infof("Replay detected - event_id: %s, previously processed at: %v", eventID, processedTime)
		return true, nil
	}
	rp.processedEvents[key] = time.Now()
	return false, nil
}

// Forget removes eventID so a failed delivery can be processed again
func (rp *ReplayProtection) Forget(ctx context.Context, eventID string) error {
	key := rp.generateEventKey(eventID)
	if rp.client != nil {
		return rp.client.Del(ctx, key).Err()
	}

	rp.mutex.Lock()
	defer rp.mutex.Unlock()
	delete(rp.processedEvents, key)
	return nil
}

func (rp *ReplayProtection) generateEventKey(eventID string) string {
	hash := sha256.Sum256([]byte(eventID))
	return "webhook_event:" + hex.EncodeToString(hash[:])
}

func (rp *ReplayProtection) startCleanupRoutine() {
	ticker := time.NewTicker(rp.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rp.cleanup()
		case <-rp.stopCleanup:
			return
		}
	}
}

func (rp *ReplayProtection) cleanup() {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	now := time.Now()
	initialCount := len(rp.processedEvents)

	for key, processedTime := range rp.processedEvents {
		if now.Sub(processedTime) > rp.eventTTL {
			delete(rp.processedEvents, key)
		}
	}

	if cleaned := initialCount - len(rp.processedEvents); cleaned > 0 {
		logging.Infof("Replay protection cleanup: removed %d expired events, remaining: %d", cleaned, len(rp.processedEvents))
	}
}

// Stop stops the in-memory cleanup routine
func (rp *ReplayProtection) Stop() {
	rp.stopOnce.Do(func() { close(rp.stopCleanup) })
}
