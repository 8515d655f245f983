// Package admission validates and persists outgoing chat messages and
// enforces the retention policy against the store.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"private-chat/backend/internal/metrics"
	"private-chat/backend/internal/models"
	"private-chat/backend/internal/store"
	"private-chat/backend/pkg/logger"
	"private-chat/backend/pkg/resilience"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrInvalidMessage   = errors.New("invalid message")
	ErrStoreUnavailable = errors.New("message store unavailable")
)

const instrumentationName = "private-chat/backend/internal/admission"

var (
	tracer           = otel.Tracer(instrumentationName)
	submitLatency, _ = otel.Meter(instrumentationName).Float64Histogram(
		"chat.admission.submit.duration",
		metric.WithDescription("Time spent admitting one message, including trim"),
		metric.WithUnit("s"),
	)
)

// Policy bounds the retained message collection.
type Policy struct {
	// MaxMessages keeps only the most recent N messages; 0 disables the bound
	MaxMessages int
	// MaxAge expires messages older than this; 0 disables expiry
	MaxAge time.Duration
	// HistoryLimit is the number of messages returned by History
	HistoryLimit int
	// MaxBodyLength is the maximum body length in runes
	MaxBodyLength int
}

// DefaultPolicy returns the standard retention policy
func DefaultPolicy() Policy {
	return Policy{
		MaxMessages:   50,
		MaxAge:        72 * time.Hour,
		HistoryLimit:  100,
		MaxBodyLength: 4000,
	}
}

// Pipeline admits messages into the store.
type Pipeline struct {
	store   store.Store
	policy  Policy
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
	now     func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithBreaker guards store inserts with a circuit breaker
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pipeline) { p.breaker = cb }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates an admission pipeline
func NewPipeline(s store.Store, policy Policy, log *logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  s,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the policy the pipeline enforces
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// Submit validates msg, inserts it and then trims the store to policy.
// Only the insert outcome is returned; trim failures are logged.
func (p *Pipeline) Submit(ctx context.Context, msg *models.Message) error {
	start := p.now()
	ctx, span := tracer.Start(ctx, "admission.Submit")
	defer span.End()

	result := "ok"
	defer func() {
		metrics.MessagesAdmitted.WithLabelValues(result).Inc()
		submitLatency.Record(ctx, p.now().Sub(start).Seconds(),
			metric.WithAttributes(attribute.String("result", result)))
	}()

	if err := p.normalize(msg); err != nil {
		result = "invalid"
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.author", msg.AuthorID),
	)

	if err := p.insert(ctx, msg); err != nil {
		result = "error"
		if errors.Is(err, store.ErrDuplicateMessage) {
			result = "duplicate"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if _, err := p.Trim(ctx); err != nil {
		p.log.LogError(err, "Retention trim failed", "message_id", msg.ID)
	}
	return nil
}

func (p *Pipeline) normalize(msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	msg.ID = strings.TrimSpace(msg.ID)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.AuthorID == "" {
		return fmt.Errorf("%w: author is required", ErrInvalidMessage)
	}
	msg.Body = strings.TrimSpace(msg.Body)
	if msg.Body == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	if p.policy.MaxBodyLength > 0 && utf8.RuneCountInString(msg.Body) > p.policy.MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters", ErrInvalidMessage, p.policy.MaxBodyLength)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = p.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return nil
}

func (p *Pipeline) insert(ctx context.Context, msg *models.Message) error {
	if p.breaker == nil {
		return p.store.Insert(ctx, msg)
	}

	// A duplicate id means the store answered, so it must not trip the breaker
	var duplicate error
	err := p.breaker.Execute(func() error {
		err := p.store.Insert(ctx, msg)
		if errors.Is(err, store.ErrDuplicateMessage) {
			duplicate = err
			return nil
		}
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return ErrStoreUnavailable
	}
	if err != nil {
		return err
	}
	return duplicate
}

// Trim deletes every expired message and then the oldest messages beyond
// MaxMessages. It returns the number of deleted messages. Concurrent trims
// may race; each pass converges the store back to policy.
func (p *Pipeline) Trim(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "admission.Trim")
	defer span.End()

	messages, err := p.store.OrderedRead(ctx, 0, store.Ascending)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("trim read: %w", err)
	}

	now := p.now()
	var expired []string
	kept := make([]models.Message, 0, len(messages))
	for i := range messages {
		if messages[i].Expired(now, p.policy.MaxAge) {
			expired = append(expired, messages[i].ID)
			continue
		}
		kept = append(kept, messages[i])
	}

	var excess []string
	if p.policy.MaxMessages > 0 && len(kept) > p.policy.MaxMessages {
		for _, m := range kept[:len(kept)-p.policy.MaxMessages] {
			excess = append(excess, m.ID)
		}
	}

	ids := append(expired, excess...)
	if len(ids) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("trim.expired", len(expired)), attribute.Int("trim.excess", len(excess)))

	if err := p.store.DeleteByIDs(ctx, ids); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("trim delete: %w", err)
	}
	metrics.RetentionDeleted.WithLabelValues("age").Add(float64(len(expired)))
	metrics.RetentionDeleted.WithLabelValues("count").Add(float64(len(excess)))
	p.log.Debug("Retention trim completed", "expired", len(expired), "excess", len(excess))
	return len(ids), nil
}

// History returns the most recent HistoryLimit messages in ascending order.
// Expired messages the sweeper has not removed yet are filtered out.
func (p *Pipeline) History(ctx context.Context) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "admission.History")
	defer span.End()

	recent, err := p.store.OrderedRead(ctx, p.policy.HistoryLimit, store.Descending)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load history: %w", err)
	}

	now := p.now()
	out := make([]models.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Expired(now, p.policy.MaxAge) {
			continue
		}
		out = append(out, recent[i])
	}
	return out, nil
}
