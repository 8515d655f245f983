package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"private-chat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertN(t *testing.T, s Store, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.Insert(context.Background(), &models.Message{
			ID:        fmt.Sprintf("m%02d", i),
			AuthorID:  "u1",
			Body:      "hello",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestMemoryStoreOrderedRead(t *testing.T) {
	s := NewMemoryStore()
	insertN(t, s, 5, time.Now())

	asc, err := s.OrderedRead(context.Background(), 0, Ascending)
	require.NoError(t, err)
	require.Len(t, asc, 5)
	assert.Equal(t, "m00", asc[0].ID)
	assert.Equal(t, "m04", asc[4].ID)

	desc, err := s.OrderedRead(context.Background(), 2, Descending)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "m04", desc[0].ID)
	assert.Equal(t, "m03", desc[1].ID)
}

func TestMemoryStoreTiesKeepInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ts := time.Now()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.Insert(context.Background(), &models.Message{ID: id, CreatedAt: ts}))
	}

	asc, err := s.OrderedRead(context.Background(), 0, Ascending)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(asc))
}

func TestMemoryStoreDuplicate(t *testing.T) {
	s := NewMemoryStore()
	msg := &models.Message{ID: "m1", CreatedAt: time.Now()}
	require.NoError(t, s.Insert(context.Background(), msg))
	assert.ErrorIs(t, s.Insert(context.Background(), &models.Message{ID: "m1"}), ErrDuplicateMessage)
}

func TestMemoryStoreDeleteByIDs(t *testing.T) {
	s := NewMemoryStore()
	insertN(t, s, 4, time.Now())

	require.NoError(t, s.DeleteByIDs(context.Background(), []string{"m01", "m03", "unknown"}))
	rest, err := s.OrderedRead(context.Background(), 0, Ascending)
	require.NoError(t, err)
	assert.Equal(t, []string{"m00", "m02"}, ids(rest))
	require.NoError(t, s.DeleteByIDs(context.Background(), nil))
}

func TestInstrumentDelegates(t *testing.T) {
	s := Instrument(NewMemoryStore())
	insertN(t, s, 3, time.Now())
	got, err := s.OrderedRead(context.Background(), 0, Ascending)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	require.NoError(t, s.DeleteByIDs(context.Background(), []string{"m00"}))
	require.NoError(t, s.Ping(context.Background()))
}

func TestRedisMemberEncoding(t *testing.T) {
	m := memberFor(42, "abc:def")
	assert.Equal(t, "abc:def", idFromMember(m))

	seq, err := strconv.ParseUint(m[:strings.IndexByte(m, ':')], 10, 64)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	// zero padding keeps lexicographic order equal to numeric order
	assert.Less(t, memberFor(9, "z"), memberFor(10, "a"))
}

func ids(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}
