package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/displayagent/internal/models"
)

const (
	DocumentsStreamPath = "/api/documents/stream"
	OfficersStreamPath  = "/api/duty-officers/stream"

	DefaultDocumentsPoll = time.Minute
	DefaultOfficersPoll  = 5 * time.Minute
)

// Source is the part of the backend client the syncer polls.
type Source interface {
	Documents(ctx context.Context) ([]models.Document, error)
	DutyOfficers(ctx context.Context) (*models.DutyOfficers, error)
	StreamURL(path string) string
}

type Options struct {
	DocumentsPoll time.Duration
	OfficersPoll  time.Duration
	Clock         clock.Clock
	// HTTPClient is used for the streams; nil uses the SSE library default.
	HTTPClient *http.Client
}

func DefaultOptions() Options {
	return Options{DocumentsPoll: DefaultDocumentsPoll, OfficersPoll: DefaultOfficersPoll}
}

// Syncer keeps the stores current from the streams and polls the REST
// endpoints only while a stream is down.
type Syncer struct {
	source   Source
	docs     *DocumentStore
	officers *OfficerStore
	opts     Options

	docStream     *Stream
	officerStream *Stream
}

func NewSyncer(source Source, docs *DocumentStore, officers *OfficerStore, opts Options) *Syncer {
	if opts.DocumentsPoll <= 0 {
		opts.DocumentsPoll = DefaultDocumentsPoll
	}
	if opts.OfficersPoll <= 0 {
		opts.OfficersPoll = DefaultOfficersPoll
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Syncer{
		source:        source,
		docs:          docs,
		officers:      officers,
		opts:          opts,
		docStream:     NewStream(source.StreamURL(DocumentsStreamPath), opts.HTTPClient),
		officerStream: NewStream(source.StreamURL(OfficersStreamPath), opts.HTTPClient),
	}
}

// Run blocks until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	s.pollDocuments(ctx)
	s.pollOfficers(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.docStream.Run(ctx, func(data []byte) {
			if err := s.HandleDocumentsMessage(data); err != nil {
				slog.Warn("Ignoring documents stream message.", "error", err)
			}
		})
	})
	g.Go(func() error {
		return s.officerStream.Run(ctx, func(data []byte) {
			if err := s.HandleOfficersMessage(data); err != nil {
				slog.Warn("Ignoring duty officers stream message.", "error", err)
			}
		})
	})
	g.Go(func() error {
		return s.pollWhileDisconnected(ctx, s.opts.DocumentsPoll, s.docStream, s.pollDocuments)
	})
	g.Go(func() error {
		return s.pollWhileDisconnected(ctx, s.opts.OfficersPoll, s.officerStream, s.pollOfficers)
	})
	return g.Wait()
}

func (s *Syncer) pollWhileDisconnected(ctx context.Context, every time.Duration, stream *Stream, poll func(context.Context)) error {
	ticker := s.opts.Clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !stream.Connected() {
				poll(ctx)
			}
		}
	}
}

func (s *Syncer) pollDocuments(ctx context.Context) {
	docs, err := s.source.Documents(ctx)
	if err != nil {
		slog.Warn("Failed to poll documents.", "error", err)
		return
	}
	s.docs.ReplaceAll(docs)
	slog.Info("Documents polled.", "count", len(docs))
}

func (s *Syncer) pollOfficers(ctx context.Context) {
	o, err := s.source.DutyOfficers(ctx)
	if err != nil {
		slog.Warn("Failed to poll duty officers.", "error", err)
		return
	}
	s.officers.Set(o)
}

// HandleDocumentsMessage applies one documents stream payload.
func (s *Syncer) HandleDocumentsMessage(data []byte) error {
	var msg models.DocumentsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode documents message: %w", err)
	}
	raws := msg.Documents
	if len(msg.Document) > 0 && string(msg.Document) != "null" {
		raws = append(raws, msg.Document)
	}
	docs, errs := models.DecodeDocuments(raws)
	for _, e := range errs {
		slog.Warn("Skipping malformed document record.", "error", e)
	}

	switch msg.Type {
	case models.StreamSnapshot:
		s.docs.ReplaceAll(docs)
	case models.StreamUpdate:
		s.docs.Upsert(docs...)
	default:
		return fmt.Errorf("unknown documents message type %q", msg.Type)
	}
	return nil
}

// HandleOfficersMessage applies one duty officers stream payload. Both
// message types carry the full assignment.
func (s *Syncer) HandleOfficersMessage(data []byte) error {
	var msg models.OfficersMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode duty officers message: %w", err)
	}
	switch msg.Type {
	case models.StreamSnapshot, models.StreamUpdate:
		s.officers.Set(msg.Officers)
	default:
		return fmt.Errorf("unknown duty officers message type %q", msg.Type)
	}
	return nil
}

// Connected reports the state of both streams.
func (s *Syncer) Connected() (documents, officers bool) {
	return s.docStream.Connected(), s.officerStream.Connected()
}
