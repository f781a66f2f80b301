// Package presence subscribes to Nostr relays for room announcements and
// listener presence and feeds them to a liveness tracker.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/nests/internal/liveness"
	"github.com/npezzotti/nests/internal/stats"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	roomLimit = 200
)

// Sink receives parsed rooms and presence signals.
type Sink interface {
	UpsertRoom(room liveness.Room)
	Observe(signals ...liveness.Signal)
}

type filter struct {
	Kinds []int `json:"kinds"`
	Since int64 `json:"since,omitempty"`
	Limit int   `json:"limit,omitempty"`
}

type Subscriber struct {
	log     zerolog.Logger
	relays  []string
	sink    Sink
	stats   stats.StatsProvider
	window  time.Duration
	dialer  *websocket.Dialer
	now     func() time.Time
	backoff func() backoff.BackOff
}

func NewSubscriber(logger zerolog.Logger, relays []string, sink Sink, su stats.StatsProvider, window time.Duration) *Subscriber {
	if window <= 0 {
		window = liveness.DefaultPresenceWindow
	}

	su.RegisterMetric(stats.PresenceSignals)
	su.RegisterMetric(stats.RelayConnections)

	return &Subscriber{
		log:    logger.With().Str("module", "presence").Logger(),
		relays: relays,
		sink:   sink,
		stats:  su,
		window: window,
		dialer: &websocket.Dialer{
			HandshakeTimeout: writeWait,
		},
		now: time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			return b
		},
	}
}

// Run keeps a subscription open to every relay until ctx is cancelled,
// reconnecting with backoff when a relay drops.
func (s *Subscriber) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, url := range s.relays {
		g.Go(func() error {
			s.runRelay(ctx, url)
			return nil
		})
	}
	return g.Wait()
}

func (s *Subscriber) runRelay(ctx context.Context, url string) {
	log := s.log.With().Str("relay", url).Logger()
	b := s.backoff()

	for {
		connected, err := s.subscribe(ctx, url)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("relay subscription ended")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// subscribe holds one connection to url until it fails or ctx ends.
// connected reports whether the subscription was established.
func (s *Subscriber) subscribe(ctx context.Context, url string) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	subId, err := shortid.Generate()
	if err != nil {
		return false, fmt.Errorf("generate subscription id: %w", err)
	}

	since := liveness.ActiveCutoff(s.now(), s.window).Unix()
	req := []any{
		"REQ",
		subId,
		filter{Kinds: []int{KindRoom}, Limit: roomLimit},
		filter{Kinds: []int{KindPresence}, Since: since},
	}

	var writeMu sync.Mutex
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(messageType, data)
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return false, err
	}
	if err := write(websocket.TextMessage, raw); err != nil {
		return false, fmt.Errorf("send subscription: %w", err)
	}

	s.stats.Incr(stats.RelayConnections)
	defer s.stats.Decr(stats.RelayConnections)
	s.log.Info().Str("relay", url).Str("sub", subId).Msg("subscribed")

	stop := make(chan struct{})
	defer close(stop)
	go s.keepalive(ctx, stop, subId, conn, write)

	return true, s.read(conn, subId)
}

// keepalive pings the relay and, when ctx ends, closes the subscription so
// the read loop returns.
func (s *Subscriber) keepalive(ctx context.Context, stop <-chan struct{}, subId string, conn *websocket.Conn, write func(int, []byte) error) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			if raw, err := json.Marshal([]string{"CLOSE", subId}); err == nil {
				write(websocket.TextMessage, raw)
			}
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (s *Subscriber) read(conn *websocket.Conn, subId string) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.handleMessage(raw, subId); err != nil {
			if errors.Is(err, errSubscriptionClosed) {
				return err
			}
			s.log.Debug().Err(err).Msg("dropped relay message")
		}
	}
}

var errSubscriptionClosed = errors.New("subscription closed by relay")

func (s *Subscriber) handleMessage(raw []byte, subId string) error {
	var msg []json.RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil || len(msg) < 2 {
		return errors.New("malformed relay message")
	}

	var typ string
	if err := json.Unmarshal(msg[0], &typ); err != nil {
		return fmt.Errorf("malformed relay message type: %w", err)
	}

	switch typ {
	case "EVENT":
		if len(msg) < 3 {
			return errors.New("EVENT without event")
		}
		var ev Event
		if err := json.Unmarshal(msg[2], &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return s.handleEvent(&ev)
	case "EOSE":
		s.log.Debug().Str("sub", subId).Msg("end of stored events")
	case "NOTICE":
		var notice string
		json.Unmarshal(msg[1], &notice)
		s.log.Info().Str("notice", notice).Msg("relay notice")
	case "CLOSED":
		var id string
		json.Unmarshal(msg[1], &id)
		if id == subId {
			return errSubscriptionClosed
		}
	}

	return nil
}

func (s *Subscriber) handleEvent(ev *Event) error {
	if err := ev.Verify(); err != nil {
		return err
	}

	switch ev.Kind {
	case KindRoom:
		room, err := ev.toRoom()
		if err != nil {
			return err
		}
		s.sink.UpsertRoom(room)
	case KindPresence:
		signal, err := ev.toSignal()
		if err != nil {
			return err
		}
		s.sink.Observe(signal)
		s.stats.Incr(stats.PresenceSignals)
	default:
		return ErrUnexpectedKind
	}

	return nil
}
