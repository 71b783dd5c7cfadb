package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancount/internal/model"
)

func TestStoreDropsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Logf(LevelInfo, "batch %d", i)
	}
	got := s.List(0)
	require.Len(t, got, 3)
	require.Equal(t, "batch 2", got[0].Message)
	require.Equal(t, "batch 4", got[2].Message)

	newest := s.List(1)
	require.Len(t, newest, 1)
	require.Equal(t, "batch 4", newest[0].Message)
}

func TestStoreDefaultsAndSince(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.Add(model.ActivityEntry{Message: "started"})
	s.Add(model.ActivityEntry{Timestamp: base.Add(time.Minute), Level: LevelWarn, Message: "cpu hot"})

	all := s.List(0)
	require.Equal(t, LevelInfo, all[0].Level)
	require.True(t, all[0].Timestamp.Equal(base))

	recent := s.Since(base.Add(30 * time.Second))
	require.Len(t, recent, 1)
	require.Equal(t, "cpu hot", recent[0].Message)

	s.Clear()
	require.Equal(t, 0, s.Len())
}
