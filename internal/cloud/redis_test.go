package cloud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancount/internal/model"
)

func TestRedisKey(t *testing.T) {
	require.Equal(t, "pancount:activeProduction:product", redisKey("pancount", pathActiveProduct))
	require.Equal(t, "products:original", redisKey("", "products/original"))
}

func TestCommandFromHash(t *testing.T) {
	_, ok := commandFromHash(nil)
	require.False(t, ok)

	cmd, ok := commandFromHash(map[string]string{"action": "calibration_stop", "timestamp": "1700000000000"})
	require.True(t, ok)
	require.True(t, cmd.Processed)
	require.Equal(t, model.ActionCalibrationStop, cmd.Action)
	require.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), cmd.Timestamp)

	cmd, _ = commandFromHash(map[string]string{"action": "calibration_start", "processed": "false"})
	require.False(t, cmd.Processed)
}

func TestSettingsFromHash(t *testing.T) {
	require.Nil(t, settingsFromHash(map[string]string{}))
	got := settingsFromHash(map[string]string{"threshold": "120"})
	require.Equal(t, "120", got["threshold"])
}
