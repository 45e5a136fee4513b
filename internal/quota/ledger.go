// Package quota tracks per-backend request budgets in the fast store and
// rotates callers across backends that still have budget left.
package quota

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/twentyq/internal/kv"
)

const (
	minuteLayout = "2006-01-02-15-04"
	dayLayout    = "2006-01-02"

	// Counter TTLs outlive their bucket to tolerate clock skew between replicas.
	minuteTTL = 2 * time.Minute
	dayTTL    = 48 * time.Hour
)

// Backend is one interchangeable generation backend and its request ceilings.
type Backend struct {
	Name     string `json:"name"`
	RPMLimit int    `json:"rpm"`
	RPDLimit int    `json:"rpd"`
}

// DefaultBackends are the free-tier models the service was first run against.
func DefaultBackends() []Backend {
	return []Backend{
		{Name: "gemma-3-27b-it", RPMLimit: 30, RPDLimit: 14400},
		{Name: "gemini-2.0-flash", RPMLimit: 15, RPDLimit: 1500},
		{Name: "gemini-2.0-flash-lite", RPMLimit: 30, RPDLimit: 1500},
		{Name: "gemini-1.5-flash", RPMLimit: 15, RPDLimit: 1500},
	}
}

// Clock abstracts wall time so bucket boundaries can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Options tune the ledger.
type Options struct {
	SnapshotPath     string        // empty disables snapshots
	SnapshotInterval time.Duration // default 10m
	SnapshotMaxAge   time.Duration // default 24h
	// HardLimit runs check-and-increment as one server-side script instead of
	// a read followed by a MULTI block. Concurrent callers can then no longer
	// overshoot a ceiling.
	HardLimit bool
	Clock     Clock
}

// Store is the subset of the fast store the ledger needs.
type Store interface {
	GetMany(ctx context.Context, keys ...string) ([]kv.Value, error)
	Atomic(ctx context.Context, ops ...kv.Op) ([]interface{}, error)
	Eval(ctx context.Context, script *redis.Script, keysAndArgs ...interface{}) (interface{}, error)
	HasKeys(ctx context.Context, pattern string) (bool, error)
}

// Ledger counts requests per backend in minute and day buckets.
type Ledger struct {
	store    Store
	backends []Backend
	opts     Options
	clock    Clock

	mu           sync.Mutex
	lastSnapshot time.Time
	indexFn      func() int

	rejections metric.Int64Counter
}

// NewLedger creates a ledger over the given backends.
func NewLedger(store Store, backends []Backend, opts Options) *Ledger {
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 10 * time.Minute
	}
	if opts.SnapshotMaxAge <= 0 {
		opts.SnapshotMaxAge = 24 * time.Hour
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	rejections, err := otel.Meter("github.com/thebtf/twentyq/internal/quota").Int64Counter(
		"twentyq.quota.rejections",
		metric.WithDescription("Requests refused because a backend hit its ceiling"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create quota rejection counter")
	}

	return &Ledger{
		store:        store,
		backends:     backends,
		opts:         opts,
		clock:        clock,
		lastSnapshot: clock.Now(),
		rejections:   rejections,
	}
}

// Backends returns the configured backends in index order.
func (l *Ledger) Backends() []Backend {
	return l.backends
}

// setIndexSource tells the ledger where to read the selected backend index for snapshots.
func (l *Ledger) setIndexSource(fn func() int) {
	l.mu.Lock()
	l.indexFn = fn
	l.mu.Unlock()
}

func (l *Ledger) currentIndex() int {
	l.mu.Lock()
	fn := l.indexFn
	l.mu.Unlock()
	if fn == nil {
		return 0
	}
	return fn()
}

type rateKeys struct {
	minute, day, lastMinute, lastDay string
}

func keysFor(name string) rateKeys {
	prefix := "rate:" + name + ":"
	return rateKeys{
		minute:     prefix + "minute",
		day:        prefix + "day",
		lastMinute: prefix + "last_minute",
		lastDay:    prefix + "last_day",
	}
}

func (k rateKeys) all() []string {
	return []string{k.minute, k.day, k.lastMinute, k.lastDay}
}

// TryConsume takes one request from backend idx's minute and day budgets.
// It returns false when either budget is spent or the fast store fails.
func (l *Ledger) TryConsume(ctx context.Context, idx int) bool {
	if idx < 0 || idx >= len(l.backends) {
		return false
	}
	b := l.backends[idx]
	now := l.clock.Now()

	var ok bool
	if l.opts.HardLimit {
		ok = l.consumeScripted(ctx, b, now)
	} else {
		ok = l.consumePipelined(ctx, b, now)
	}

	if !ok {
		if l.rejections != nil {
			l.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", b.Name)))
		}
		return false
	}

	l.maybeSnapshot(ctx, now)
	return true
}

func (l *Ledger) consumePipelined(ctx context.Context, b Backend, now time.Time) bool {
	minuteID, dayID := bucketIDs(now)
	keys := keysFor(b.Name)

	vals, err := l.store.GetMany(ctx, keys.all()...)
	if err != nil {
		log.Warn().Err(err).Str("backend", b.Name).Msg("Quota read failed")
		return false
	}

	minuteCount := liveCount(vals[0], vals[2], minuteID)
	dayCount := liveCount(vals[1], vals[3], dayID)
	if minuteCount >= b.RPMLimit || dayCount >= b.RPDLimit {
		log.Debug().
			Str("backend", b.Name).
			Int("minute", minuteCount).
			Int("day", dayCount).
			Msg("Backend at ceiling")
		return false
	}

	ops := make([]kv.Op, 0, 6)
	ops = append(ops, bump(keys.minute, inBucket(vals[2], minuteID), minuteTTL)...)
	ops = append(ops, bump(keys.day, inBucket(vals[3], dayID), dayTTL)...)
	ops = append(ops,
		kv.SetWithTTL(keys.lastMinute, minuteID, minuteTTL),
		kv.SetWithTTL(keys.lastDay, dayID, dayTTL),
	)
	if _, err := l.store.Atomic(ctx, ops...); err != nil {
		log.Warn().Err(err).Str("backend", b.Name).Msg("Quota increment failed")
		return false
	}
	return true
}

// bump increments a counter of the current bucket. A counter left over from
// an elapsed bucket is overwritten with 1 instead. Two callers that both see
// the elapsed bucket both write 1, so the first request of a bucket can be
// undercounted by the number of concurrent rollovers.
func bump(key string, current bool, ttl time.Duration) []kv.Op {
	if !current {
		return []kv.Op{kv.SetWithTTL(key, 1, ttl)}
	}
	return []kv.Op{kv.Incr(key), kv.Expire(key, ttl)}
}

// KEYS: minute, day, last_minute, last_day
// ARGV: minute id, day id, rpm, rpd, minute ttl, day ttl
var consumeScript = redis.NewScript(4, `
local m = 0
if redis.call('GET', KEYS[3]) == ARGV[1] then
  m = tonumber(redis.call('GET', KEYS[1]) or '0') or 0
end
local d = 0
if redis.call('GET', KEYS[4]) == ARGV[2] then
  d = tonumber(redis.call('GET', KEYS[2]) or '0') or 0
end
if m >= tonumber(ARGV[3]) or d >= tonumber(ARGV[4]) then
  return 0
end
redis.call('SET', KEYS[1], m + 1, 'EX', ARGV[5])
redis.call('SET', KEYS[2], d + 1, 'EX', ARGV[6])
redis.call('SET', KEYS[3], ARGV[1], 'EX', ARGV[5])
redis.call('SET', KEYS[4], ARGV[2], 'EX', ARGV[6])
return 1
`)

func (l *Ledger) consumeScripted(ctx context.Context, b Backend, now time.Time) bool {
	minuteID, dayID := bucketIDs(now)
	keys := keysFor(b.Name)

	reply, err := l.store.Eval(ctx, consumeScript,
		keys.minute, keys.day, keys.lastMinute, keys.lastDay,
		minuteID, dayID, b.RPMLimit, b.RPDLimit,
		int64(minuteTTL/time.Second), int64(dayTTL/time.Second),
	)
	if err != nil {
		log.Warn().Err(err).Str("backend", b.Name).Msg("Quota script failed")
		return false
	}
	n, err := redis.Int(reply, nil)
	if err != nil {
		log.Warn().Err(err).Str("backend", b.Name).Msg("Unexpected quota script reply")
		return false
	}
	return n == 1
}

// Usage is the live state of one backend's budgets.
type Usage struct {
	Backend     string `json:"backend"`
	MinuteCount int    `json:"minute_count"`
	DayCount    int    `json:"day_count"`
	RPMLimit    int    `json:"rpm_limit"`
	RPDLimit    int    `json:"rpd_limit"`
	Current     bool   `json:"current"`
}

// Usage reports live counts for every backend. Elapsed buckets read as zero.
func (l *Ledger) Usage(ctx context.Context) ([]Usage, error) {
	states, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}
	minuteID, dayID := bucketIDs(l.clock.Now())
	current := l.currentIndex()

	usage := make([]Usage, len(l.backends))
	for i, b := range l.backends {
		st := states[i]
		usage[i] = Usage{
			Backend:  b.Name,
			RPMLimit: b.RPMLimit,
			RPDLimit: b.RPDLimit,
			Current:  i == current,
		}
		if st.LastMinute == minuteID {
			usage[i].MinuteCount = st.MinuteCount
		}
		if st.LastDay == dayID {
			usage[i].DayCount = st.DayCount
		}
	}
	return usage, nil
}

// readAll fetches the raw stored counters of every backend in one round trip.
func (l *Ledger) readAll(ctx context.Context) ([]modelSnapshot, error) {
	keys := make([]string, 0, 4*len(l.backends))
	for _, b := range l.backends {
		keys = append(keys, keysFor(b.Name).all()...)
	}
	vals, err := l.store.GetMany(ctx, keys...)
	if err != nil {
		return nil, err
	}

	states := make([]modelSnapshot, len(l.backends))
	for i := range l.backends {
		v := vals[4*i : 4*i+4]
		states[i] = modelSnapshot{
			MinuteCount: atoi(v[0]),
			DayCount:    atoi(v[1]),
			LastMinute:  v[2].Data,
			LastDay:     v[3].Data,
		}
	}
	return states, nil
}

func bucketIDs(t time.Time) (minute, day string) {
	return t.Format(minuteLayout), t.Format(dayLayout)
}

// liveCount is the stored counter if it belongs to the current bucket, else zero.
func liveCount(counter, bucket kv.Value, current string) int {
	if !inBucket(bucket, current) {
		return 0
	}
	return atoi(counter)
}

func inBucket(bucket kv.Value, current string) bool {
	return bucket.Found && bucket.Data == current
}

func atoi(v kv.Value) int {
	if !v.Found {
		return 0
	}
	n, err := strconv.Atoi(v.Data)
	if err != nil {
		return 0
	}
	return n
}
