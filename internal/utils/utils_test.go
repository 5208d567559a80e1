package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDirName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	name, err := RunDirName(ts)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^20240309-140507_[0-9a-f]{6}$`), name)
}

func TestGenerateUUID(t *testing.T) {
	id := GenerateUUID()
	assert.True(t, IsUUID(id))
	assert.NotEqual(t, id, GenerateUUID())
	assert.False(t, IsUUID("not-a-uuid"))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 1.23, Seconds(1234*time.Millisecond))
	assert.Equal(t, 0.0, Seconds(0))
}
