package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestStoreEmpty(t *testing.T) {
	t.Parallel()

	s := New(fixedClock{})
	_, err := s.ModTime(context.Background())
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = s.Read(context.Background())
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStoreWriteRead(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(fixedClock{t: at})
	payload := []byte(`{"categories":[],"topics":[]}`)
	require.NoError(t, s.Write(context.Background(), payload))

	payload[0] = 'X'
	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"categories":[],"topics":[]}`, string(got))

	modified, err := s.ModTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at, modified)
	assert.Equal(t, 1, s.Writes())
}

func TestStoreEmptyPayloadStillCounts(t *testing.T) {
	t.Parallel()

	s := New(fixedClock{t: time.Unix(10, 0)})
	require.NoError(t, s.Write(context.Background(), nil))
	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
