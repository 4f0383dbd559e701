package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/mediagrab/media"
)

func TestStore_PutGet(t *testing.T) {
	s := New(10, time.Hour)
	defer s.Close()

	sess := media.NewSession("https://example.com/")
	id := s.Put(sess)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = s.Get("nope")
	assert.False(t, ok)

	s.Delete(id)
	_, ok = s.Get(id)
	assert.False(t, ok)
}

func TestStore_Expiry(t *testing.T) {
	s := New(10, 20*time.Millisecond)
	defer s.Close()

	id := s.Put(media.NewSession("https://example.com/"))
	time.Sleep(40 * time.Millisecond)

	_, ok := s.Get(id)
	assert.False(t, ok)

	s.evictExpired()
	assert.Equal(t, 0, s.Len())
}

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	s := New(2, time.Hour)
	defer s.Close()

	first := s.Put(media.NewSession("https://a.example/"))
	time.Sleep(time.Millisecond)
	second := s.Put(media.NewSession("https://b.example/"))
	time.Sleep(time.Millisecond)
	third := s.Put(media.NewSession("https://c.example/"))

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get(first)
	assert.False(t, ok)
	_, ok = s.Get(second)
	assert.True(t, ok)
	_, ok = s.Get(third)
	assert.True(t, ok)
}

func TestStore_CloseIdempotent(t *testing.T) {
	s := New(1, time.Hour)
	s.Close()
	s.Close()
}
