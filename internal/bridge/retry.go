package bridge

import (
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/providers"
)

// RetryWorker replays failed outbound syncs with exponential backoff. A sync
// whose entity has since reached a terminal state is abandoned rather than
// retried; a sync that exhausts its attempts stays queryable as a persistent
// warning.
type RetryWorker struct {
	db          *gorm.DB
	bridge      *Bridge
	maxAttempts int
	base        time.Duration
	now         func() time.Time
}

// NewRetryWorker creates a retry worker over the bridge's sync error records
func NewRetryWorker(db *gorm.DB, b *Bridge, maxAttempts int, base time.Duration) *RetryWorker {
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	if base <= 0 {
		base = 30 * time.Second
	}
	return &RetryWorker{
		db:          db,
		bridge:      b,
		maxAttempts: maxAttempts,
		base:        base,
		now:         time.Now,
	}
}

// RunOnce processes all due sync errors and returns how many were retried
func (w *RetryWorker) RunOnce() (int, error) {
	due, err := database.DueSyncErrors(w.db, w.now(), 100)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range due {
		w.process(&due[i])
		retried++
	}
	return retried, nil
}

func (w *RetryWorker) process(syncErr *database.SyncError) {
	if w.moot(syncErr) {
		if err := w.db.Model(syncErr).Update("abandoned", true).Error; err != nil {
			log.Printf("Failed to mark sync error %d abandoned: %v", syncErr.ID, err)
		}
		log.Printf("Abandoned pending %s sync for %s %d: entity reached terminal state",
			syncErr.Operation, syncErr.EntityType, syncErr.EntityID)
		return
	}

	adapter, err := w.bridge.registry.Get(syncErr.Provider)
	if err != nil {
		log.Printf("Sync error %d references unknown provider %s, abandoning", syncErr.ID, syncErr.Provider)
		w.db.Model(syncErr).Update("abandoned", true)
		return
	}

	event := InternalEvent{
		TenantID:    syncErr.TenantID,
		EntityType:  providers.EntityType(syncErr.EntityType),
		EntityID:    syncErr.EntityID,
		Operation:   syncErr.Operation,
		ExternalIDs: externalIDSnapshot(syncErr.ExternalIDs),
	}
	callErr := w.bridge.callAdapter(adapter, event)
	if callErr == nil {
		if err := w.db.Model(syncErr).Update("resolved", true).Error; err != nil {
			log.Printf("Failed to mark sync error %d resolved: %v", syncErr.ID, err)
		}
		log.Printf("Retried %s sync for %s %d against %s: success",
			syncErr.Operation, syncErr.EntityType, syncErr.EntityID, syncErr.Provider)
		return
	}

	attempts := syncErr.Attempts + 1
	updates := map[string]interface{}{
		"attempts": attempts,
		"message":  callErr.Error(),
	}
	if attempts >= w.maxAttempts {
		updates["exhausted"] = true
		log.Printf("Warning: %s sync for %s %d against %s exhausted after %d attempts: %v",
			syncErr.Operation, syncErr.EntityType, syncErr.EntityID, syncErr.Provider, attempts, callErr)
	} else {
		next := w.now().Add(w.backoffInterval(attempts))
		updates["next_retry_at"] = next
	}
	if err := w.db.Model(syncErr).Updates(updates).Error; err != nil {
		log.Printf("Failed to update sync error %d: %v", syncErr.ID, err)
	}
}

// externalIDSnapshot converts a persisted provider id snapshot back into the
// event map shape
func externalIDSnapshot(ids database.JSONB) map[string]string {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]string, len(ids))
	for provider, v := range ids {
		if id, ok := v.(string); ok {
			out[provider] = id
		}
	}
	return out
}

// moot reports whether the local entity has since made the pending sync
// pointless: a resolved alert, or a row that no longer exists
func (w *RetryWorker) moot(syncErr *database.SyncError) bool {
	switch providers.EntityType(syncErr.EntityType) {
	case providers.EntityTypeAlert:
		alert, err := database.GetAlert(w.db, syncErr.TenantID, syncErr.EntityID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true
		}
		if err != nil {
			return false
		}
		// A create/update for an already-resolved alert is moot; a resolve
		// sync still needs to reach the provider
		return alert.Status.IsTerminal() && syncErr.Operation != OpResolve

	case providers.EntityTypeMonitor:
		_, err := database.GetMonitor(w.db, syncErr.TenantID, syncErr.EntityID)
		return errors.Is(err, gorm.ErrRecordNotFound) && syncErr.Operation != OpRemove

	default:
		return false
	}
}

// backoffInterval derives the next delay from the attempt count using the
// standard exponential curve, without jitter so retry times stay queryable
func (w *RetryWorker) backoffInterval(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.base
	bo.RandomizationFactor = 0
	bo.MaxInterval = 30 * time.Minute

	interval := bo.InitialInterval
	for i := 1; i < attempts; i++ {
		interval = time.Duration(float64(interval) * bo.Multiplier)
		if interval > bo.MaxInterval {
			return bo.MaxInterval
		}
	}
	return interval
}

// Start begins periodic retry processing until stop is closed
func (w *RetryWorker) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			retried, err := w.RunOnce()
			if err != nil {
				log.Printf("Sync retry worker error: %v", err)
			} else if retried > 0 {
				log.Printf("Sync retry worker: processed %d pending syncs", retried)
			}
		case <-stop:
			log.Println("Sync retry worker stopped")
			return
		}
	}
}
