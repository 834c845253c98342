package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/domain/model"
)

// Key layout. Every key carries the {jobs} hash tag so the Lua scripts touch a
// single slot on Redis Cluster.
//
//	<prefix>{jobs}:job:<id>                hash with the record fields
//	<prefix>{jobs}:queue:<kind>            list of PENDING ids, LPUSH/RPOP
//	<prefix>{jobs}:status:<kind>:<STATUS>  set of ids currently in STATUS
//	<prefix>{jobs}:kinds                   set of kinds seen
//	<prefix>jobs:added:<kind>              pub/sub channel
const defaultRedisJobPrefix = "taskmanager:"

// RedisJobRepoOptions configures NewRedisJobRepo.
type RedisJobRepoOptions struct {
	Prefix string
	// ResultTTL is applied to the record hash once it reaches a terminal state.
	// Zero keeps terminal records until the reaper deletes them.
	ResultTTL    time.Duration
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RedisJobRepo stores jobs in Redis hashes with per-kind pending lists.
type RedisJobRepo struct {
	client       redis.UniversalClient
	prefix       string
	resultTTL    time.Duration
	logger       *slog.Logger
	timeProvider TimeProvider
}

var (
	_ core.JobRepository    = (*RedisJobRepo)(nil)
	_ core.ReaperRepository = (*RedisJobRepo)(nil)
)

// NewRedisJobRepo creates a Redis-backed job store.
func NewRedisJobRepo(client redis.UniversalClient, opts RedisJobRepoOptions) *RedisJobRepo {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisJobPrefix
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisJobRepo{
		client:       client,
		prefix:       prefix,
		resultTTL:    opts.ResultTTL,
		logger:       logger.With("component", "redis_job_repo"),
		timeProvider: tp,
	}
}

func (r *RedisJobRepo) jobKey(id string) string { return r.prefix + "{jobs}:job:" + id }
func (r *RedisJobRepo) queueKey(kind model.JobKind) string {
	return r.prefix + "{jobs}:queue:" + string(kind)
}

func (r *RedisJobRepo) statusKey(kind model.JobKind, status model.JobStatus) string {
	return r.prefix + "{jobs}:status:" + string(kind) + ":" + string(status)
}
func (r *RedisJobRepo) kindsKey() string { return r.prefix + "{jobs}:kinds" }
func (r *RedisJobRepo) channel(kind model.JobKind) string {
	return r.prefix + "jobs:added:" + string(kind)
}

// claimScript pops ids from each queue in KEYS order until it finds one that
// is still PENDING, then moves it to STARTED. Entries whose hash has expired
// or already moved on are discarded.
//
// KEYS: queue keys. ARGV[1]: job key prefix, ARGV[2]: status key prefix,
// ARGV[3]: timestamp.
var claimScript = redis.NewScript(`
for _, queue in ipairs(KEYS) do
  while true do
    local id = redis.call('RPOP', queue)
    if not id then break end
    local key = ARGV[1] .. id
    if redis.call('HGET', key, 'status') == 'PENDING' then
      local kind = redis.call('HGET', key, 'kind')
      redis.call('HSET', key, 'status', 'STARTED', 'started_at', ARGV[3], 'updated_at', ARGV[3])
      redis.call('SMOVE', ARGV[2] .. kind .. ':PENDING', ARGV[2] .. kind .. ':STARTED', id)
      return id
    end
  end
end
return false
`)

// finishScript is the STARTED → terminal compare-and-set.
//
// KEYS[1]: job key. ARGV: id, status prefix, new status, field, value,
// timestamp, ttl seconds.
var finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'STARTED' then
  return 0
end
local kind = redis.call('HGET', KEYS[1], 'kind')
redis.call('HSET', KEYS[1], 'status', ARGV[3], ARGV[4], ARGV[5], 'completed_at', ARGV[6], 'updated_at', ARGV[6])
redis.call('SMOVE', ARGV[2] .. kind .. ':STARTED', ARGV[2] .. kind .. ':' .. ARGV[3], ARGV[1])
local ttl = tonumber(ARGV[7])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

// Create stores a PENDING job, enqueues it and publishes on the kind channel.
func (r *RedisJobRepo) Create(ctx context.Context, rec *model.NewJobRecord) (*model.Job, error) {
	if rec == nil {
		return nil, errors.New("job record is required")
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", rec.ID, err)
	}
	if !rec.Kind.Valid() {
		return nil, fmt.Errorf("invalid job kind: %s", rec.Kind)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now()
	}
	createdAt = createdAt.UTC()

	job := &model.Job{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Status:    model.JobStatusPending,
		Params:    cloneJSON(rec.Params),
		ParentID:  clonePtr(rec.ParentID),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}

	fields := map[string]any{
		"id":         job.ID,
		"kind":       string(job.Kind),
		"status":     string(job.Status),
		"params":     string(job.Params),
		"created_at": formatRedisTime(createdAt),
		"updated_at": formatRedisTime(createdAt),
	}
	if job.ParentID != nil {
		fields["parent_id"] = *job.ParentID
	}

	ok, err := r.client.HSetNX(ctx, r.jobKey(job.ID), "id", job.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis reserve job key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s already exists", job.ID)
	}

	if _, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.jobKey(job.ID), fields)
		p.SAdd(ctx, r.statusKey(job.Kind, model.JobStatusPending), job.ID)
		p.SAdd(ctx, r.kindsKey(), string(job.Kind))
		p.LPush(ctx, r.queueKey(job.Kind), job.ID)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("redis create job: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel(job.Kind), job.ID).Err(); err != nil {
		r.logger.WarnContext(ctx, "failed to publish job notification", "job_id", job.ID, "error", err)
	}
	return job, nil
}

// GetByID loads a job hash. Missing or expired records are not found.
func (r *RedisJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	vals, err := r.client.HGetAll(ctx, r.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get job: %w", err)
	}
	if len(vals) == 0 || vals["status"] == "" {
		return nil, ErrJobNotFound
	}
	return decodeRedisJob(vals)
}

// ReserveNext claims a PENDING job of one of kinds.
func (r *RedisJobRepo) ReserveNext(ctx context.Context, kinds []model.JobKind) (*model.Job, error) {
	if len(kinds) == 0 {
		return nil, errors.New("at least one job kind is required")
	}
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		keys = append(keys, r.queueKey(k))
	}

	id, err := claimScript.Run(ctx, r.client, keys,
		r.jobKey(""), r.statusPrefix(),
		formatRedisTime(r.timeProvider.Now().UTC()),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("redis reserve job: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Complete moves a STARTED job to SUCCESS.
func (r *RedisJobRepo) Complete(ctx context.Context, id, result string) (bool, error) {
	return r.finish(ctx, id, model.JobStatusSuccess, "result", result)
}

// Fail moves a STARTED job to FAILURE.
func (r *RedisJobRepo) Fail(ctx context.Context, id string, errs []string) (bool, error) {
	payload, err := json.Marshal(normalizeErrors(errs))
	if err != nil {
		return false, fmt.Errorf("marshal job errors: %w", err)
	}
	return r.finish(ctx, id, model.JobStatusFailure, "errors", string(payload))
}

func (r *RedisJobRepo) finish(ctx context.Context, id string, status model.JobStatus, field, value string) (bool, error) {
	n, err := finishScript.Run(ctx, r.client, []string{r.jobKey(id)},
		id, r.statusPrefix(), string(status), field, value,
		formatRedisTime(r.timeProvider.Now().UTC()), int64(r.resultTTL/time.Second),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis finish job: %w", err)
	}
	return n == 1, nil
}

// statusPrefix is the status key with kind and status left off.
func (r *RedisJobRepo) statusPrefix() string {
	return r.prefix + "{jobs}:status:"
}

// Stats counts jobs per status from the status sets.
func (r *RedisJobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	kinds, err := r.kinds(ctx, kind)
	if err != nil {
		return nil, err
	}

	var s model.JobStats
	for _, k := range kinds {
		counts, cerr := r.countByStatus(ctx, k)
		if cerr != nil {
			return nil, cerr
		}
		s.Pending += int(counts[model.JobStatusPending])
		s.Started += int(counts[model.JobStatusStarted])
		s.Success += int(counts[model.JobStatusSuccess])
		s.Failure += int(counts[model.JobStatusFailure])
	}
	return &s, nil
}

func (r *RedisJobRepo) kinds(ctx context.Context, kind model.JobKind) ([]model.JobKind, error) {
	if kind != "" {
		return []model.JobKind{kind}, nil
	}
	names, err := r.client.SMembers(ctx, r.kindsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list kinds: %w", err)
	}
	out := make([]model.JobKind, 0, len(names))
	for _, n := range names {
		out = append(out, model.JobKind(n))
	}
	return out, nil
}

var storedStatuses = []model.JobStatus{
	model.JobStatusPending,
	model.JobStatusStarted,
	model.JobStatusSuccess,
	model.JobStatusFailure,
}

func (r *RedisJobRepo) countByStatus(ctx context.Context, kind model.JobKind) (map[model.JobStatus]int64, error) {
	cmds := make(map[model.JobStatus]*redis.IntCmd, len(storedStatuses))
	if _, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, st := range storedStatuses {
			cmds[st] = p.SCard(ctx, r.statusKey(kind, st))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("redis count jobs: %w", err)
	}
	out := make(map[model.JobStatus]int64, len(cmds))
	for st, cmd := range cmds {
		out[st] = cmd.Val()
	}
	return out, nil
}

// WaitForNotification subscribes to the kind channel and returns on the first
// message or when ctx ends.
func (r *RedisJobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	sub := r.client.Subscribe(ctx, r.channel(kind))
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	select {
	case _, ok := <-sub.Channel():
		if !ok {
			return errors.New("redis subscription closed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailStaleStartedJobs fails STARTED jobs whose start is older than maxAge.
func (r *RedisJobRepo) FailStaleStartedJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if maxAge <= 0 || batchSize <= 0 {
		return 0, errors.New("max age and batch size must be greater than zero")
	}
	cutoff := r.timeProvider.Now().Add(-maxAge)
	payload, err := json.Marshal([]string{staleStartedMessage})
	if err != nil {
		return 0, err
	}

	return r.sweep(ctx, model.JobStatusStarted, batchSize, func(id string, vals map[string]string) (bool, error) {
		startedAt, ok := parseRedisTime(vals["started_at"])
		if !ok || !startedAt.Before(cutoff) {
			return false, nil
		}
		return r.finish(ctx, id, model.JobStatusFailure, "errors", string(payload))
	})
}

// DeleteOldJobs deletes terminal records completed before MaxAge. Ids whose
// hash already expired are dropped from the status set as well.
func (r *RedisJobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("only terminal jobs can be deleted, got %s", params.Status)
	}
	if params.MaxAge <= 0 || params.BatchSize <= 0 {
		return 0, errors.New("max age and batch size must be greater than zero")
	}
	cutoff := r.timeProvider.Now().Add(-params.MaxAge)

	return r.sweep(ctx, params.Status, params.BatchSize, func(id string, vals map[string]string) (bool, error) {
		completedAt, ok := parseRedisTime(vals["completed_at"])
		if !ok || !completedAt.Before(cutoff) {
			return false, nil
		}
		if err := r.client.Del(ctx, r.jobKey(id)).Err(); err != nil {
			return false, fmt.Errorf("redis delete job: %w", err)
		}
		return true, nil
	})
}

// sweep visits ids in the status sets of every kind, calling fn for live
// records and removing ids whose hash is gone. It stops after batchSize
// records were changed.
func (r *RedisJobRepo) sweep(
	ctx context.Context,
	status model.JobStatus,
	batchSize int,
	fn func(id string, vals map[string]string) (bool, error),
) (int64, error) {
	kinds, err := r.kinds(ctx, "")
	if err != nil {
		return 0, err
	}

	var changed int64
	for _, kind := range kinds {
		setKey := r.statusKey(kind, status)
		iter := r.client.SScan(ctx, setKey, 0, "", 100).Iterator()
		for iter.Next(ctx) {
			if changed >= int64(batchSize) {
				return changed, nil
			}
			id := iter.Val()
			vals, herr := r.client.HGetAll(ctx, r.jobKey(id)).Result()
			if herr != nil {
				return changed, fmt.Errorf("redis load job: %w", herr)
			}
			if len(vals) == 0 {
				r.client.SRem(ctx, setKey, id)
				continue
			}
			ok, ferr := fn(id, vals)
			if ferr != nil {
				return changed, ferr
			}
			if ok {
				if status.Terminal() {
					r.client.SRem(ctx, setKey, id)
				}
				changed++
			}
		}
		if iterErr := iter.Err(); iterErr != nil {
			return changed, fmt.Errorf("redis scan %s: %w", setKey, iterErr)
		}
	}
	return changed, nil
}

func decodeRedisJob(vals map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:     vals["id"],
		Kind:   model.JobKind(vals["kind"]),
		Status: model.JobStatus(vals["status"]),
		Params: cloneJSON([]byte(vals["params"])),
	}
	if v, ok := vals["result"]; ok {
		job.Result = &v
	}
	if v, ok := vals["parent_id"]; ok && v != "" {
		job.ParentID = &v
	}
	if v := vals["errors"]; v != "" {
		if err := json.Unmarshal([]byte(v), &job.Errors); err != nil {
			return nil, fmt.Errorf("decode job errors: %w", err)
		}
	}
	job.CreatedAt, _ = parseRedisTime(vals["created_at"])
	job.UpdatedAt, _ = parseRedisTime(vals["updated_at"])
	if t, ok := parseRedisTime(vals["started_at"]); ok {
		job.StartedAt = &t
	}
	if t, ok := parseRedisTime(vals["completed_at"]); ok {
		job.CompletedAt = &t
	}
	return job, nil
}

func formatRedisTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseRedisTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
