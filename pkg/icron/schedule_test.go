package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Validate("0 3 * * *"))
	assert.NoError(t, Validate("30 0 3 * * *"))
	assert.NoError(t, Validate("@daily"))
	assert.Error(t, Validate("every day"))
}

func TestGetTriggerInfo_Daily(t *testing.T) {
	t.Parallel()

	ref := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	info, err := GetTriggerInfo("0 3 * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 9*time.Hour, info.TimeSinceLast)
	assert.Equal(t, 15*time.Hour, info.TimeUntilNext)
}
