package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roleaudit/internal/errors"
	"roleaudit/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s, err := NewStore(filepath.Join(t.TempDir(), "snapshots.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func results(network string, ts time.Time, active int) *models.AuditResults {
	state := make([]*models.CurrentStateEntry, active)
	for i := range state {
		state[i] = &models.CurrentStateEntry{
			Address:  "0x1111111111111111111111111111111111111111",
			RoleHash: "0x0000000000000000000000000000000000000000000000000000000000000000",
		}
	}
	return &models.AuditResults{
		Network:      network,
		Contracts:    []string{"DataRegistry"},
		CurrentState: state,
		Stats:        models.ComputeAuditStats(state, nil, nil),
		Timestamp:    ts,
	}
}

func TestSaveAndLoadLatestSnapshot(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.SaveSnapshot(results("moksha", base, 1))
	require.NoError(t, err)
	key, err := s.SaveSnapshot(results("moksha", base.Add(time.Hour), 3))
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	latest, err := s.LatestSnapshot("moksha")
	require.NoError(t, err)
	assert.Equal(t, "moksha", latest.Network)
	// 时间更晚的快照胜出
	assert.Equal(t, 3, latest.Stats.ActivePermissions)
	assert.True(t, latest.Timestamp.Equal(base.Add(time.Hour)))
}

func TestLatestSnapshotMissingNetwork(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LatestSnapshot("vana")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSnapshotNotFound)
}

func TestSnapshotsIsolatedPerNetwork(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.SaveSnapshot(results("moksha", ts, 1))
	require.NoError(t, err)
	_, err = s.SaveSnapshot(results("vana", ts, 2))
	require.NoError(t, err)

	moksha, err := s.LatestSnapshot("moksha")
	require.NoError(t, err)
	assert.Equal(t, 1, moksha.Stats.ActivePermissions)

	vana, err := s.LatestSnapshot("vana")
	require.NoError(t, err)
	assert.Equal(t, 2, vana.Stats.ActivePermissions)
}

func TestListSnapshotsOrderedByTime(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.SaveSnapshot(results("moksha", base.Add(time.Duration(i)*time.Hour), i))
		require.NoError(t, err)
	}

	infos, err := s.ListSnapshots("moksha")
	require.NoError(t, err)
	require.Len(t, infos, 3)

	for i := 1; i < len(infos); i++ {
		assert.True(t, infos[i].Timestamp.After(infos[i-1].Timestamp))
	}
}

func TestListSnapshotsEmptyNetwork(t *testing.T) {
	s := newTestStore(t)

	infos, err := s.ListSnapshots("moksha")
	require.NoError(t, err)
	assert.Empty(t, infos)
}
