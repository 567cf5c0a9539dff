package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/scribesync/internal/domain/entities"
	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

const (
	// DefaultFlushInterval is how often pending writes are flushed in the background
	DefaultFlushInterval = 30 * time.Second

	// DefaultStaleThreshold is how old local state may get before mount re-hydrates
	DefaultStaleThreshold = 24 * time.Hour
)

// ErrFlushDeferred is returned when a flush arrives while hydration holds the
// gate. The flush runs once hydration finishes.
var ErrFlushDeferred = errors.New("flush deferred until hydration completes")

// SyncCoordinator owns one sync context: it wires lifecycle triggers to
// flush and hydrate and keeps the two mutually exclusive. Hydration takes the
// gate exclusively; flushes share it and are deferred rather than blocked.
type SyncCoordinator struct {
	store       *DomainStore
	dispatcher  *SyncDispatcher
	queue       *SyncQueue
	hydration   *HydrationService
	credentials providers.CredentialProvider
	eventBus    providers.EventBus

	flushInterval  time.Duration
	staleThreshold time.Duration
	now            func() time.Time

	gate sync.RWMutex

	mu             sync.Mutex
	lastSyncedAt   *time.Time
	lastError      string
	deferredReason string
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// CoordinatorOption configures a SyncCoordinator
type CoordinatorOption func(*SyncCoordinator)

// WithFlushInterval sets the periodic flush interval; zero disables the timer
func WithFlushInterval(d time.Duration) CoordinatorOption {
	return func(c *SyncCoordinator) {
		c.flushInterval = d
	}
}

// WithStaleThreshold sets how old hydrated state may be before mount hydrates again
func WithStaleThreshold(d time.Duration) CoordinatorOption {
	return func(c *SyncCoordinator) {
		c.staleThreshold = d
	}
}

// WithCoordinatorClock overrides the coordinator's clock
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *SyncCoordinator) {
		c.now = now
	}
}

// NewSyncCoordinator creates a coordinator. credentials may be nil when the
// remote store needs none.
func NewSyncCoordinator(store *DomainStore, dispatcher *SyncDispatcher, hydration *HydrationService, credentials providers.CredentialProvider, opts ...CoordinatorOption) *SyncCoordinator {
	c := &SyncCoordinator{
		store:          store,
		dispatcher:     dispatcher,
		queue:          dispatcher.Queue(),
		hydration:      hydration,
		credentials:    credentials,
		flushInterval:  DefaultFlushInterval,
		staleThreshold: DefaultStaleThreshold,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEventBus subscribes the coordinator to lifecycle events published for
// its owner once Init runs
func (c *SyncCoordinator) SetEventBus(eventBus providers.EventBus) {
	c.eventBus = eventBus
}

// Init loads local state, starts the periodic and event-driven triggers and
// runs the mount trigger. Mount hydration and flush failures are logged and
// reflected in Status.
func (c *SyncCoordinator) Init(ctx context.Context) error {
	if err := c.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load local state: %w", err)
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if c.flushInterval > 0 {
		c.wg.Add(1)
		go c.runTicker(loopCtx)
	}

	if c.eventBus != nil {
		channel := providers.GetLifecycleChannel(c.store.OwnerID())
		events, err := c.eventBus.Subscribe(loopCtx, channel)
		if err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("lifecycle events unavailable")
		} else {
			c.wg.Add(1)
			go c.processEvents(loopCtx, events)
		}
	}

	if c.needsHydration() {
		if err := c.ForceHydrate(ctx); err != nil {
			log.Error().Err(err).Msg("mount hydration failed")
		}
	}
	if err := c.FlushAll(ctx, string(entities.LifecycleEventMount)); err != nil && !errors.Is(err, ErrFlushDeferred) {
		log.Error().Err(err).Msg("mount flush failed")
	}
	return nil
}

// Dispose stops the triggers and makes a final flush
func (c *SyncCoordinator) Dispose(ctx context.Context) error {
	c.stopTriggers()
	c.wg.Wait()

	if c.eventBus != nil {
		if err := c.eventBus.Unsubscribe(ctx, providers.GetLifecycleChannel(c.store.OwnerID())); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe from lifecycle events")
		}
	}

	err := c.FlushAll(ctx, string(entities.LifecycleEventUnload))
	if errors.Is(err, ErrFlushDeferred) {
		return nil
	}
	return err
}

// FlushAll pushes pending writes to the remote store. It fails with an
// UNAUTHORIZED error when no credentials can be obtained and with
// ErrFlushDeferred while hydration is running.
func (c *SyncCoordinator) FlushAll(ctx context.Context, reason string) error {
	if err := c.checkCredentials(ctx); err != nil {
		return err
	}

	if !c.gate.TryRLock() {
		c.mu.Lock()
		c.deferredReason = reason
		c.mu.Unlock()
		log.Debug().Str("reason", reason).Msg("flush deferred, hydration in progress")
		return ErrFlushDeferred
	}
	defer c.gate.RUnlock()

	ran, err := c.queue.flush(ctx, reason)
	if ran {
		c.recordOutcome(err)
	}
	return err
}

// ForceHydrate drains pending writes and then replaces local state with the
// remote state
func (c *SyncCoordinator) ForceHydrate(ctx context.Context) error {
	return c.runHydration(ctx, c.hydration.Hydrate)
}

// RetryHydrate re-runs a failed hydration
func (c *SyncCoordinator) RetryHydrate(ctx context.Context) error {
	return c.runHydration(ctx, c.hydration.Retry)
}

// HandleLifecycleEvent flushes for every trigger. sign_out also stops the
// background triggers once its flush has finished.
func (c *SyncCoordinator) HandleLifecycleEvent(ctx context.Context, event *entities.LifecycleEvent) error {
	err := c.FlushAll(ctx, string(event.Type))
	if errors.Is(err, ErrFlushDeferred) {
		err = nil
	}
	if event.Type == entities.LifecycleEventSignOut {
		c.stopTriggers()
	}
	if err != nil {
		log.Error().Err(err).Str("trigger", string(event.Type)).Msg("triggered flush failed")
	}
	return err
}

// Status returns the sync status indicator
func (c *SyncCoordinator) Status() entities.SyncStatus {
	c.mu.Lock()
	status := entities.SyncStatus{LastError: c.lastError}
	if c.lastSyncedAt != nil {
		t := *c.lastSyncedAt
		status.LastSyncedAt = &t
	}
	c.mu.Unlock()

	status.Queue = c.queue.Stats()
	status.DeadLetters = c.dispatcher.DeadLetters()
	status.Hydration = c.hydration.State()
	return status
}

func (c *SyncCoordinator) runHydration(ctx context.Context, hydrate func(context.Context) (*HydrationBundle, error)) error {
	if err := c.checkCredentials(ctx); err != nil {
		c.hydration.MarkFailed(err)
		return err
	}

	err := c.hydrateExclusive(ctx, hydrate)
	c.runDeferredFlush(ctx)
	return err
}

func (c *SyncCoordinator) hydrateExclusive(ctx context.Context, hydrate func(context.Context) (*HydrationBundle, error)) error {
	c.gate.Lock()
	defer c.gate.Unlock()
	release := c.store.HoldWrites()
	defer release()

	if err := c.queue.FlushAll(ctx, "pre-hydrate"); err != nil {
		c.recordOutcome(err)
		err = fmt.Errorf("pending writes could not be flushed before hydration: %w", err)
		c.hydration.MarkFailed(err)
		return err
	}

	bundle, err := hydrate(ctx)
	if err != nil {
		c.recordOutcome(err)
		return err
	}
	if err := c.store.ReplaceAll(ctx, bundle); err != nil {
		c.hydration.MarkFailed(err)
		c.recordOutcome(err)
		return err
	}
	c.recordOutcome(nil)
	return nil
}

func (c *SyncCoordinator) runDeferredFlush(ctx context.Context) {
	c.mu.Lock()
	reason := c.deferredReason
	c.deferredReason = ""
	c.mu.Unlock()

	if reason == "" {
		return
	}
	if err := c.FlushAll(ctx, reason); err != nil && !errors.Is(err, ErrFlushDeferred) {
		log.Error().Err(err).Str("reason", reason).Msg("deferred flush failed")
	}
}

func (c *SyncCoordinator) checkCredentials(ctx context.Context) error {
	if c.credentials == nil {
		return nil
	}
	if _, err := c.credentials.Retrieve(ctx); err != nil {
		err = apperrors.NewUnauthorizedErrorWrap("no valid session for remote sync", err)
		c.recordOutcome(err)
		return err
	}
	return nil
}

func (c *SyncCoordinator) recordOutcome(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastError = err.Error()
		return
	}
	now := c.now()
	c.lastSyncedAt = &now
	c.lastError = ""
}

func (c *SyncCoordinator) needsHydration() bool {
	if c.store.IsEmpty() {
		return true
	}
	last := c.store.LastHydratedAt()
	return last == nil || c.now().Sub(*last) > c.staleThreshold
}

func (c *SyncCoordinator) stopTriggers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *SyncCoordinator) runTicker(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			_ = c.HandleLifecycleEvent(ctx, entities.NewLifecycleEvent(c.store.OwnerID(), entities.LifecycleEventPeriodic))
		}
	}
}

func (c *SyncCoordinator) processEvents(ctx context.Context, events <-chan *entities.LifecycleEvent) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			_ = c.HandleLifecycleEvent(ctx, event)
		}
	}
}
