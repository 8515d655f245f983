// Package store holds the durable message log the retention policy is
// enforced against.
package store

import (
	"context"
	"errors"
	"time"

	"private-chat/backend/internal/metrics"
	"private-chat/backend/internal/models"
)

// Order is the direction of an ordered read by creation timestamp.
// Messages sharing a timestamp keep their insertion order.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

var (
	ErrDuplicateMessage = errors.New("message with this id already exists")
)

// Store is the persistence interface consumed by the admission pipeline.
type Store interface {
	// Insert appends a message. Inserting an id that already exists
	// returns ErrDuplicateMessage.
	Insert(ctx context.Context, msg *models.Message) error
	// OrderedRead returns up to limit messages; limit <= 0 reads everything.
	OrderedRead(ctx context.Context, limit int, order Order) ([]models.Message, error)
	// DeleteByIDs removes the given ids. Unknown ids are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error
	Ping(ctx context.Context) error
}

// Instrument wraps s so every call is recorded in the store latency histogram.
func Instrument(s Store) Store {
	return &instrumented{next: s}
}

type instrumented struct {
	next Store
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *instrumented) Insert(ctx context.Context, msg *models.Message) error {
	defer observe("insert", time.Now())
	return s.next.Insert(ctx, msg)
}

func (s *instrumented) OrderedRead(ctx context.Context, limit int, order Order) ([]models.Message, error) {
	defer observe("read", time.Now())
	return s.next.OrderedRead(ctx, limit, order)
}

func (s *instrumented) DeleteByIDs(ctx context.Context, ids []string) error {
	defer observe("delete", time.Now())
	return s.next.DeleteByIDs(ctx, ids)
}

func (s *instrumented) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}
