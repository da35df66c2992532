package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/model"
	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	historyQueueSize  = 1024
	historyBatchSize  = 100
	historyFlushEvery = time.Second
	defaultEventLimit = 200
)

// HistoryReader is what handlers need from the transition history.
type HistoryReader interface {
	ListEvents(ctx context.Context, sessionID string, limit int) ([]model.Event, error)
}

// HistoryService persists session transitions. SessionTransition only enqueues;
// Run writes the queue to PostgreSQL in batches.
type HistoryService struct {
	db      *gorm.DB
	log     *zap.Logger
	events  chan model.SessionEvent
	dropped atomic.Int64
}

// NewHistoryService creates a history service.
func NewHistoryService(db *gorm.DB, log *zap.Logger) *HistoryService {
	return &HistoryService{
		db:     db,
		log:    log.Named("history"),
		events: make(chan model.SessionEvent, historyQueueSize),
	}
}

// SessionTransition queues t for persistence.
func (s *HistoryService) SessionTransition(t supervisor.Transition) {
	select {
	case s.events <- transitionToEntity(t):
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.log.Warn("history queue full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is left.
func (s *HistoryService) Run(ctx context.Context) {
	ticker := time.NewTicker(historyFlushEvery)
	defer ticker.Stop()

	batch := make([]model.SessionEvent, 0, historyBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.write(batch); err != nil {
			s.log.Error("persist session events", zap.Error(err), zap.Int("count", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= historyBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.events:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *HistoryService) write(batch []model.SessionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.WithContext(ctx).CreateInBatches(batch, historyBatchSize).Error
}

// ListEvents returns the transitions of a session, oldest first.
func (s *HistoryService) ListEvents(ctx context.Context, sessionID string, limit int) ([]model.Event, error) {
	if limit <= 0 || limit > defaultEventLimit {
		limit = defaultEventLimit
	}
	var rows []model.SessionEvent
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	out := make([]model.Event, 0, len(rows))
	for i := range rows {
		out = append(out, entityToEvent(&rows[i]))
	}
	return out, nil
}

func transitionToEntity(t supervisor.Transition) model.SessionEvent {
	return model.SessionEvent{
		SessionID:   t.SessionID,
		Fingerprint: t.Fingerprint,
		Credential:  t.Credential,
		TokenType:   string(t.Kind),
		ChannelID:   t.ChannelID,
		GuildID:     t.GuildID,
		FromState:   string(t.From),
		ToState:     string(t.To),
		Attempt:     t.Attempt,
		Reason:      t.Reason,
		OccurredAt:  t.At,
	}
}

func entityToEvent(ent *model.SessionEvent) model.Event {
	return model.Event{
		SessionID:  ent.SessionID,
		Token:      ent.Credential,
		TokenType:  ent.TokenType,
		ChannelID:  ent.ChannelID,
		GuildID:    ent.GuildID,
		From:       ent.FromState,
		To:         ent.ToState,
		Attempt:    ent.Attempt,
		Reason:     ent.Reason,
		OccurredAt: ent.OccurredAt,
	}
}
