package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StreamMessage is one push from the signal stream.
type StreamMessage struct {
	Type      string           `json:"type"`
	Sentiment *SentimentSignal `json:"sentiment,omitempty"`
	Momentum  *MomentumSignal  `json:"momentum,omitempty"`
}

// Stream subscribes to pushed signal updates and writes them to a Cache,
// where the Resolver picks them up.
type Stream struct {
	url   string
	cache Cache
	ttl   time.Duration
}

func NewStream(u string, cache Cache, ttl time.Duration) *Stream {
	return &Stream{url: u, cache: cache, ttl: ttl}
}

// Run keeps a subscription open until ctx is done, reconnecting with
// exponential backoff. An empty subjects list subscribes to everything.
func (s *Stream) Run(ctx context.Context, subjects []string, ping time.Duration) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		received, err := s.streamOnce(ctx, subjects, ping)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received > 0 {
			backoff = time.Second
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("Signal stream dropped, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Stream) streamOnce(ctx context.Context, subjects []string, ping time.Duration) (int, error) {
	log.Info().Str("url", s.url).Int("subjects", len(subjects)).Msg("Connecting to signal stream")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	if ping <= 0 {
		ping = 30 * time.Second
	}
	conn.SetReadLimit(512 * 1024)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * ping))
	})

	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "subjects": subjects}); err != nil {
		return 0, fmt.Errorf("subscribe failed: %w", err)
	}

	// ReadMessage blocks, so reads happen on their own goroutine
	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-done:
				return
			}
		}
	}()

	pingTicker := time.NewTicker(ping)
	defer pingTicker.Stop()

	received := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return received, ctx.Err()
		case err := <-readErr:
			return received, fmt.Errorf("read message failed: %w", err)
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return received, fmt.Errorf("ping failed: %w", err)
			}
		case msg := <-msgs:
			if err := s.apply(ctx, msg); err != nil {
				log.Debug().Err(err).Str("message", string(msg)).Msg("Failed to apply signal update")
				continue
			}
			received++
		}
	}
}

func (s *Stream) apply(ctx context.Context, msg []byte) error {
	var m StreamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	switch m.Type {
	case KindSentiment:
		if m.Sentiment == nil {
			return fmt.Errorf("sentiment update without payload")
		}
		if err := m.Sentiment.Validate(); err != nil {
			return err
		}
		return PutSentiment(ctx, s.cache, *m.Sentiment, s.ttl)
	case KindMomentum:
		if m.Momentum == nil {
			return fmt.Errorf("momentum update without payload")
		}
		if err := m.Momentum.Validate(); err != nil {
			return err
		}
		return PutMomentum(ctx, s.cache, *m.Momentum, s.ttl)
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}
