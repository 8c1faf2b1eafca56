// Package outbox spools the link's offline buffer to SQLite so messages
// queued while disconnected survive a daemon restart.
package outbox

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/rtlink/internal/bus"
	"github.com/matheus3301/rtlink/internal/frame"
	"github.com/matheus3301/rtlink/internal/store"
	"go.uber.org/zap"
)

// KindSpooled is published after the spool is rewritten.
const KindSpooled = "link.spooled"

// DefaultInterval is how often the spool mirrors the offline buffer.
const DefaultInterval = 2 * time.Second

// Buffer is the offline buffer of a link client.
type Buffer interface {
	Buffered() []frame.Message
	Restore(msgs []frame.Message)
}

// SpoolEvent is the payload of KindSpooled.
type SpoolEvent struct {
	Messages int `json:"messages"`
}

// Spool mirrors a Buffer into the store's outbox table.
type Spool struct {
	db       *store.DB
	buf      Buffer
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	last   []uint64
	synced bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSpool creates a spool. A zero interval uses DefaultInterval.
func NewSpool(db *store.DB, buf Buffer, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Spool {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spool{
		db:       db,
		buf:      buf,
		bus:      b,
		logger:   logger.Named("outbox"),
		interval: interval,
	}
}

// Restore loads the spooled messages into the buffer and returns how many
// were restored.
func (s *Spool) Restore(ctx context.Context) (int, error) {
	entries, err := s.db.LoadOutbox(ctx)
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}
	msgs := make([]frame.Message, 0, len(entries))
	for _, e := range entries {
		m, err := decode(e)
		if err != nil {
			s.logger.Warn("dropping unreadable spooled message", zap.Int64("seq", e.Seq), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) > 0 {
		s.buf.Restore(msgs)
	}
	return len(msgs), nil
}

// Start begins mirroring the buffer every interval.
func (s *Spool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	go s.loop(ctx, done)
}

// Stop ends the loop and writes the buffer one last time.
func (s *Spool) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return s.Flush(ctx)
}

func (s *Spool) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("failed to spool offline buffer", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Flush rewrites the outbox table when the buffer changed since the last
// write.
func (s *Spool) Flush(ctx context.Context) error {
	msgs := s.buf.Buffered()
	seqs := make([]uint64, len(msgs))
	for i, m := range msgs {
		seqs[i] = m.Seq
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced && slices.Equal(seqs, s.last) {
		return nil
	}

	entries := make([]store.OutboxEntry, 0, len(msgs))
	for _, m := range msgs {
		e, err := encode(m)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if err := s.db.ReplaceOutbox(ctx, entries); err != nil {
		return fmt.Errorf("replace outbox: %w", err)
	}
	s.last = seqs
	s.synced = true
	s.logger.Debug("offline buffer spooled", zap.Int("messages", len(entries)))
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: KindSpooled, Payload: SpoolEvent{Messages: len(entries)}})
	}
	return nil
}

func encode(m frame.Message) (store.OutboxEntry, error) {
	body, err := frame.Encode(m.Frame())
	if err != nil {
		return store.OutboxEntry{}, fmt.Errorf("encode seq %d: %w", m.Seq, err)
	}
	return store.OutboxEntry{
		Seq:       int64(m.Seq),
		MsgID:     m.ID,
		Type:      m.Type,
		Body:      string(body),
		Timestamp: m.Timestamp,
		QueuedAt:  m.QueuedAt,
	}, nil
}

func decode(e store.OutboxEntry) (frame.Message, error) {
	f, err := frame.Parse([]byte(e.Body))
	if err != nil {
		return frame.Message{}, err
	}
	return frame.Message{
		ID:        f.ID,
		Type:      f.Type,
		Payload:   f.Payload,
		Data:      f.Data,
		Timestamp: e.Timestamp,
		QueuedAt:  e.QueuedAt,
		Seq:       uint64(e.Seq),
	}, nil
}
