// Package media keeps the media-delivery service in step with the role
// state held in the database.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/npezzotti/nests/internal/stats"
	"github.com/rs/zerolog"
)

const (
	DefaultPushTimeout = 5 * time.Second
	DefaultPushRetries = 3

	pushQueueSize = 256
)

var errSuperseded = errors.New("superseded by a newer change")

type PermissionChange struct {
	RoomId     string
	Identity   string
	CanPublish bool
}

type participantKey struct {
	roomId   string
	identity string
}

// pending holds the newest change for one participant while a worker
// delivers it.
type pending struct {
	change PermissionChange
	dirty  bool
}

// Synchronizer forwards role changes to the media service. Pushes are
// best-effort: the database already holds the new role, and a session that
// misses a push picks the role up from its next token.
//
// Changes for the same participant are delivered one at a time and only
// the newest is sent; a change that is replaced while it is being retried
// is abandoned.
type Synchronizer struct {
	log      zerolog.Logger
	media    MediaService
	stats    stats.StatsProvider
	timeout  time.Duration
	retries  uint
	backoff  func() backoff.BackOff
	pushChan chan PermissionChange
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[participantKey]*pending
}

func NewSynchronizer(logger zerolog.Logger, media MediaService, su stats.StatsProvider, timeout time.Duration, retries uint) *Synchronizer {
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}

	su.RegisterMetric(stats.PermissionPushes)
	su.RegisterMetric(stats.PermissionPushFailures)

	return &Synchronizer{
		log:     logger.With().Str("module", "media.sync").Logger(),
		media:   media,
		stats:   su,
		timeout: timeout,
		retries: retries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		pushChan: make(chan PermissionChange, pushQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[participantKey]*pending),
	}
}

// CreateRoom registers a room with the media service, bounded by the push
// timeout.
func (s *Synchronizer) CreateRoom(ctx context.Context, roomId string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.media.CreateRoom(ctx, roomId)
}

// PushPermissionChange queues a publish-permission update for delivery and
// returns immediately. The change is dropped when the queue is full or the
// synchronizer is shutting down.
func (s *Synchronizer) PushPermissionChange(roomId, identity string, canPublish bool) {
	logger := s.log.With().
		Str("room", roomId).
		Str("identity", identity).
		Logger()

	select {
	case <-s.stop:
		s.stats.Incr(stats.PermissionPushFailures)
		logger.Warn().Msg("synchronizer stopped, dropping permission change")
		return
	default:
	}

	change := PermissionChange{RoomId: roomId, Identity: identity, CanPublish: canPublish}

	select {
	case s.pushChan <- change:
	default:
		s.stats.Incr(stats.PermissionPushFailures)
		logger.Warn().Msg("push queue full, dropping permission change")
	}
}

func (s *Synchronizer) Run() {
	var wg sync.WaitGroup
	defer close(s.done)

	dispatch := func(change PermissionChange) {
		key := participantKey{roomId: change.RoomId, identity: change.Identity}

		s.mu.Lock()
		defer s.mu.Unlock()

		if p, ok := s.pending[key]; ok {
			p.change = change
			p.dirty = true
			return
		}

		p := &pending{change: change}
		s.pending[key] = p

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(key, p)
		}()
	}

	for {
		select {
		case change := <-s.pushChan:
			dispatch(change)
		case <-s.stop:
			s.log.Info().Msg("flushing pending permission changes")
			for {
				select {
				case change := <-s.pushChan:
					dispatch(change)
				default:
					wg.Wait()
					return
				}
			}
		}
	}
}

// work delivers the newest change for key until no newer one arrives.
func (s *Synchronizer) work(key participantKey, p *pending) {
	for {
		s.mu.Lock()
		change := p.change
		p.dirty = false
		s.mu.Unlock()

		s.deliver(change, p)

		s.mu.Lock()
		if !p.dirty {
			delete(s.pending, key)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *Synchronizer) superseded(p *pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return p.dirty
}

func (s *Synchronizer) deliver(change PermissionChange, p *pending) {
	logger := s.log.With().
		Str("room", change.RoomId).
		Str("identity", change.Identity).
		Bool("can_publish", change.CanPublish).
		Logger()

	// Retries are bounded by count and by total elapsed time.
	maxElapsed := s.timeout * time.Duration(s.retries+1) * 2
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		if s.superseded(p) {
			return struct{}{}, backoff.Permanent(errSuperseded)
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := s.media.UpdateParticipantPermission(ctx, change.RoomId, change.Identity, change.CanPublish)
		if errors.Is(err, ErrNotConnected) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(s.backoff()),
		backoff.WithMaxTries(s.retries+1),
		backoff.WithMaxElapsedTime(maxElapsed),
	)

	switch {
	case err == nil:
		s.stats.Incr(stats.PermissionPushes)
		logger.Debug().Msg("pushed permission change")
	case errors.Is(err, ErrNotConnected):
		logger.Debug().Msg("participant not connected, nothing to push")
	case errors.Is(err, errSuperseded):
		logger.Debug().Msg("permission change superseded")
	default:
		s.stats.Incr(stats.PermissionPushFailures)
		logger.Error().Err(err).Msg("permission push failed")
	}
}

func (s *Synchronizer) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
