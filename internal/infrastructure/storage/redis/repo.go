package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

// Options tunes key layout and expiry. Zero values fall back to defaults.
type Options struct {
	Prefix       string
	TTL          time.Duration // applied to the latest-report key
	LockTTL      time.Duration
	EventStream  string
	EventChannel string
	KeepReports  int64
}

// Repo stores records as JSON strings, a capped msgpack report history,
// and publishes one event per closed position.
type Repo struct {
	rdb  redis.UniversalClient
	opts Options

	keyIndex   string // set of record keys
	keyReports string // list of msgpack reports, newest first
	keyLatest  string

	lockPoll time.Duration
	lockWait time.Duration
}

// ClosedEvent is the payload published for every closed position.
type ClosedEvent struct {
	RunID     string  `json:"run_id"`
	Key       string  `json:"key"`
	Asset     string  `json:"asset"`
	Direction string  `json:"direction"`
	Price     float64 `json:"price"`
	UPnLPct   float64 `json:"upnl_pct"`
	Reason    string  `json:"reason"`
	Result    string  `json:"result,omitempty"`
	Ts        int64   `json:"ts_ms"`
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func New(rdb redis.UniversalClient, opts Options) *Repo {
	if strings.TrimSpace(opts.Prefix) == "" {
		opts.Prefix = "xdsl:"
	}
	if strings.TrimSpace(opts.EventStream) == "" {
		opts.EventStream = opts.Prefix + "events"
	}
	if strings.TrimSpace(opts.EventChannel) == "" {
		opts.EventChannel = opts.Prefix + "events:pub"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.KeepReports <= 0 {
		opts.KeepReports = 100
	}
	return &Repo{
		rdb:        rdb,
		opts:       opts,
		keyIndex:   opts.Prefix + "records",
		keyReports: opts.Prefix + "reports",
		keyLatest:  opts.Prefix + "latest",
		lockPoll:   50 * time.Millisecond,
		lockWait:   10 * time.Second,
	}
}

func (r *Repo) recordKey(key string) string { return r.opts.Prefix + "rec:" + key }
func (r *Repo) lockKey(key string) string   { return r.opts.Prefix + "lock:" + key }

// ========== RecordStore ==========

func (r *Repo) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.rdb.SMembers(ctx, r.keyIndex).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Repo) Load(ctx context.Context, key string) (*model.Record, error) {
	b, err := r.rdb.Get(ctx, r.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ParseRecord(b)
}

func (r *Repo) Save(ctx context.Context, key string, rec *model.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.recordKey(key), b, 0)
	pipe.SAdd(ctx, r.keyIndex, key)
	_, err = pipe.Exec(ctx)
	return err
}

// Lock takes a token lock with SET NX PX so a crashed holder expires.
func (r *Repo) Lock(ctx context.Context, key string) (func(), error) {
	lk := r.lockKey(key)
	token := uuid.NewString()
	deadline := time.Now().Add(r.lockWait)

	for {
		ok, err := r.rdb.SetNX(ctx, lk, token, r.opts.LockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// detached so a cancelled batch still releases its lock
				_ = unlockScript.Run(context.Background(), r.rdb, []string{lk}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", model.ErrLockHeld, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.lockPoll):
		}
	}
}

// ========== Journal ==========

func (r *Repo) SaveReport(ctx context.Context, rep *model.BatchReport) error {
	b, err := msgpack.Marshal(rep)
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, r.keyLatest, b, r.opts.TTL)
	pipe.LPush(ctx, r.keyReports, b)
	pipe.LTrim(ctx, r.keyReports, 0, r.opts.KeepReports-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	for _, ev := range closedEvents(rep) {
		if err := r.publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) publish(ctx context.Context, ev ClosedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> * for durable consumers
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.opts.EventStream,
		Values: map[string]any{
			"ts_ms":   ev.Ts,
			"asset":   ev.Asset,
			"reason":  ev.Reason,
			"payload": string(payload),
		},
	}).Err(); err != nil {
		return err
	}

	// 2) PubSub for live listeners
	return r.rdb.Publish(ctx, r.opts.EventChannel, payload).Err()
}

// RecentReports returns up to limit reports, newest first.
func (r *Repo) RecentReports(ctx context.Context, limit int) ([]*model.BatchReport, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := r.rdb.LRange(ctx, r.keyReports, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.BatchReport, 0, len(raw))
	for _, s := range raw {
		var rep model.BatchReport
		if err := msgpack.Unmarshal([]byte(s), &rep); err != nil {
			return nil, err
		}
		out = append(out, &rep)
	}
	return out, nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

func closedEvents(rep *model.BatchReport) []ClosedEvent {
	out := make([]ClosedEvent, 0, len(rep.Closed))
	for _, c := range rep.Closed {
		out = append(out, ClosedEvent{
			RunID:     rep.RunID,
			Key:       c.Key,
			Asset:     c.Asset,
			Direction: string(c.Direction),
			Price:     c.Price,
			UPnLPct:   c.UPnLPct,
			Reason:    c.CloseReason,
			Result:    c.CloseResult,
			Ts:        rep.Time.UnixMilli(),
		})
	}
	return out
}

var (
	_ port.RecordStore  = (*Repo)(nil)
	_ port.Journal      = (*Repo)(nil)
	_ port.ReportReader = (*Repo)(nil)
)
