package sweeper

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KiloMates/ShipBox/internal/broker/messages"
	"github.com/KiloMates/ShipBox/internal/models"
)

type Repository interface {
	ClaimStalePendingRequests(ctx context.Context, olderThan time.Time, limit int) ([]*models.ShipmentRequest, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Sweeper — фоновая уборка протухших pending-заявок: без ответа
// путешественника дольше TTL заявка автоматически отменяется. Денег в
// pending ещё нет, поэтому возвратов здесь не бывает.
type Sweeper struct {
	repo     Repository
	producer Producer
	topic    string

	sweepInterval time.Duration
	pendingTTL    time.Duration
	batchSize     int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalExpired        atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Sweeper {
	return &Sweeper{
		repo:          repo,
		producer:      producer,
		topic:         topic,
		sweepInterval: 60 * time.Second,
		pendingTTL:    72 * time.Hour,
		batchSize:     100,
		triggerCh:     make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(sweepInterval, pendingTTL time.Duration, batchSize int) *Sweeper {
	if sweepInterval > 0 {
		s.sweepInterval = sweepInterval
	}
	if pendingTTL > 0 {
		s.pendingTTL = pendingTTL
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	return s
}

// Trigger forces an immediate sweep cycle (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles   int64      `json:"totalCycles"`
	TotalExpired  int64      `json:"totalExpired"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalCycles:  s.totalCycles.Load(),
		TotalExpired: s.totalExpired.Load(),
		TotalErrors:  s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	s.totalCycles.Add(1)

	// Внутри одного цикла выгребаем всё: заявок может скопиться больше
	// batchSize, если свипер долго не работал.
	for {
		expired, err := s.repo.ClaimStalePendingRequests(ctx, now.Add(-s.pendingTTL), s.batchSize)
		if err != nil {
			slog.Error("claim stale pending requests", "error", err.Error())
			s.totalErrors.Add(1)
			s.lastErrorMu.Lock()
			s.lastError = err.Error()
			s.lastErrorMu.Unlock()
			return
		}
		if len(expired) == 0 {
			return
		}
		s.totalExpired.Add(int64(len(expired)))

		for _, req := range expired {
			s.publishExpired(ctx, req, now)
		}

		if len(expired) < s.batchSize {
			return
		}
	}
}

func (s *Sweeper) publishExpired(ctx context.Context, req *models.ShipmentRequest, now time.Time) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.RequestTransitioned{
		RequestID:  req.ID,
		ListingID:  req.ListingID,
		From:       models.RequestStatusPending,
		To:         models.RequestStatusCancelled,
		Action:     "sweep_expire",
		OccurredAt: now,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(req.ID.String()), b); err != nil {
		s.totalErrors.Add(1)
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		slog.Error("publish sweep event", "request_id", req.ID, "error", err.Error())
	}
}
