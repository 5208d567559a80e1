package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Admission is the limiter's verdict on one submission
type Admission struct {
	Allowed bool
	// Used is the page count in the window, including this submission when allowed
	Used int
	// RetryAfter is how long a refused submitter should wait
	RetryAfter time.Duration
}

// SubmissionLimiter meters uploaded essay pages per submitter
type SubmissionLimiter interface {
	Admit(ctx context.Context, submitter string, pages int) (Admission, error)
	Budget() int
}

// admitScript keeps one sorted-set member per admitted submission, scored by
// its time in ms and suffixed with its page count. A refused submission is not
// recorded, so retrying does not extend the wait.
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local budget = tonumber(ARGV[3])
local pages = tonumber(ARGV[4])

redis.call("zremrangebyscore", KEYS[1], "-inf", now - window)
local used = 0
for _, member in ipairs(redis.call("zrange", KEYS[1], 0, -1)) do
	used = used + tonumber(string.match(member, ":(%d+)$") or "1")
end

if used + pages > budget then
	local oldest = redis.call("zrange", KEYS[1], 0, 0, "withscores")
	local wait = window
	if #oldest > 0 then
		wait = tonumber(oldest[2]) + window - now
	end
	return {0, used, wait}
end

redis.call("zadd", KEYS[1], now, ARGV[5])
redis.call("pexpire", KEYS[1], window)
return {1, used + pages, 0}
`)

type pageWindowLimiter struct {
	client *redis.Client
	budget int
	window time.Duration
	now    func() time.Time
}

// NewSubmissionLimiter returns a Redis sliding-window limiter allowing budget
// pages per window for each submitter. A submission larger than the whole
// budget is always refused.
func NewSubmissionLimiter(client *redis.Client, budget int, window time.Duration) SubmissionLimiter {
	return &pageWindowLimiter{client: client, budget: budget, window: window, now: time.Now}
}

func (l *pageWindowLimiter) Budget() int { return l.budget }

// Admit records the submission's pages when they fit the submitter's window
func (l *pageWindowLimiter) Admit(ctx context.Context, submitter string, pages int) (Admission, error) {
	if pages < 1 {
		pages = 1
	}
	now := l.now().UnixMilli()

	res, err := admitScript.Run(ctx, l.client,
		[]string{limiterKey(submitter)},
		now, l.window.Milliseconds(), l.budget, pages, windowMember(now, pages),
	).Int64Slice()
	if err != nil {
		return Admission{}, fmt.Errorf("rate limiter for %q: %w", submitter, err)
	}
	return parseAdmission(res)
}

func limiterKey(submitter string) string {
	return "essay:ratelimit:" + submitter
}

// windowMember is unique per submission so two submissions in the same
// millisecond are both counted
func windowMember(nowMillis int64, pages int) string {
	return strconv.FormatInt(nowMillis, 10) + "-" + uuid.NewString() + ":" + strconv.Itoa(pages)
}

func parseAdmission(res []int64) (Admission, error) {
	if len(res) != 3 {
		return Admission{}, fmt.Errorf("rate limiter: unexpected reply %v", res)
	}
	a := Admission{Allowed: res[0] == 1, Used: int(res[1])}
	if !a.Allowed && res[2] > 0 {
		a.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return a, nil
}
