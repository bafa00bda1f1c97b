package livesync

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"
)

const (
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
)

// Stream is one SSE subscription that reconnects forever and tracks whether
// it is currently connected.
type Stream struct {
	url       string
	client    *sse.Client
	connected atomic.Bool
	logCtx    *slog.Logger
}

// NewStream prepares a subscription to url. httpClient may be nil.
func NewStream(url string, httpClient *http.Client) *Stream {
	s := &Stream{
		url:    url,
		logCtx: slog.With("stream", url),
	}
	s.client = sse.NewClient(url, func(c *sse.Client) {
		if httpClient != nil {
			c.Connection = httpClient
		}
		c.ReconnectStrategy = reconnectBackoff()
		c.ReconnectNotify = func(err error, next time.Duration) {
			s.logCtx.Warn("Stream connection failed, reconnecting.", "error", err, "retryIn", next)
		}
	})
	s.client.OnConnect(func(*sse.Client) {
		s.connected.Store(true)
		s.logCtx.Info("Stream connected.")
	})
	s.client.OnDisconnect(func(*sse.Client) {
		s.connected.Store(false)
		s.logCtx.Warn("Stream disconnected.")
	})
	return s
}

func reconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitial
	b.MaxInterval = reconnectMax
	// Zero never gives up.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Connected reports whether the stream currently has a live connection.
func (s *Stream) Connected() bool {
	return s.connected.Load()
}

// Run delivers every non-empty message payload to handle until ctx is done.
func (s *Stream) Run(ctx context.Context, handle func(data []byte)) error {
	s.logCtx.Info("Subscribing to stream.")
	err := s.client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		handle(msg.Data)
	})
	s.connected.Store(false)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
