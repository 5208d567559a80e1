package queue

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowMember(t *testing.T) {
	a := windowMember(1700000000000, 3)
	b := windowMember(1700000000000, 3)
	assert.NotEqual(t, a, b)
	// the admit script reads the page count from the ":<n>" suffix
	assert.Regexp(t, regexp.MustCompile(`^1700000000000-[0-9a-f-]{36}:3$`), a)
}

func TestParseAdmission(t *testing.T) {
	a, err := parseAdmission([]int64{1, 4, 0})
	require.NoError(t, err)
	assert.Equal(t, Admission{Allowed: true, Used: 4}, a)

	a, err = parseAdmission([]int64{0, 9, 1500})
	require.NoError(t, err)
	assert.Equal(t, Admission{Used: 9, RetryAfter: 1500 * time.Millisecond}, a)

	_, err = parseAdmission([]int64{1})
	assert.Error(t, err)
}

func TestSubmissionLimiter_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, 0)
	require.NoError(t, err)
	defer client.Close()

	limiter := NewSubmissionLimiter(client, 5, time.Minute).(*pageWindowLimiter)
	clock := time.Now()
	limiter.now = func() time.Time { return clock }
	submitter := "user:test-" + t.Name()
	require.NoError(t, client.Del(ctx, limiterKey(submitter)).Err())
	defer client.Del(ctx, limiterKey(submitter))

	a, err := limiter.Admit(ctx, submitter, 3)
	require.NoError(t, err)
	assert.True(t, a.Allowed)
	assert.Equal(t, 3, a.Used)

	// a three page essay no longer fits, a two page one does
	clock = clock.Add(10 * time.Second)
	a, err = limiter.Admit(ctx, submitter, 3)
	require.NoError(t, err)
	assert.False(t, a.Allowed)
	assert.Equal(t, 3, a.Used)
	assert.Equal(t, 50*time.Second, a.RetryAfter)

	a, err = limiter.Admit(ctx, submitter, 2)
	require.NoError(t, err)
	assert.True(t, a.Allowed)
	assert.Equal(t, 5, a.Used)

	// the first submission leaves the window
	clock = clock.Add(55 * time.Second)
	a, err = limiter.Admit(ctx, submitter, 3)
	require.NoError(t, err)
	assert.True(t, a.Allowed)
	assert.Equal(t, 5, a.Used)
}
