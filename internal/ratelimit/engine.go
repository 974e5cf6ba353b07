// Package ratelimit implements the distributed rate limiter (spec §4.4):
// policy-driven fixed-window counters and timeouts persisted in the
// shared KV store, with partition selection, header reporting, and live
// reconfiguration behind an atomically-swapped snapshot.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
)

const (
	bucketKeyPrefix  = "ratelimit:bucket:"
	timeoutKeyPrefix = "ratelimit:timeout:"
)

// Mode is how a request was partitioned.
type Mode string

const (
	ModeIP      Mode = "ip"
	ModeAccount Mode = "account"
)

// RuleStatus is the per-rule metadata attached to an admission result,
// reported on the response headers per spec §6.
type RuleStatus struct {
	MaxHits               int
	PeriodSeconds         int
	TimeoutSeconds        int
	Count                 int64
	SecondsUntilTimeoutEnd int
}

// Result is what the engine returns for every request; it never writes
// the HTTP response itself (spec §4.4 "Header contract").
type Result struct {
	Admitted          bool
	PolicyName        string
	Mode              Mode
	Rules             []RuleStatus
	RetryAfterSeconds int
}

// Engine is the distributed rate limiter, C4.
type Engine struct {
	kv       kv.Gateway
	snapshot atomic.Pointer[Config]
	metrics  metrics
}

// metrics counts buckets and timeouts created, and calls admitted and
// denied, since the engine started, for admin views. These are cumulative
// totals; the number of buckets or timeouts currently live in the KV
// store is not tracked. Reads must not block admissions (spec §4.4 "Metrics"), so every counter here
// is a plain atomic int64, never a lock shared with Admit.
type metrics struct {
	bucketsCreated   atomic.Int64
	timeoutsCreated  atomic.Int64
	admitted         atomic.Int64
	denied           atomic.Int64
}

// New constructs an Engine with the given initial configuration. The
// config is validated before being published.
func New(gateway kv.Gateway, initial Config) (*Engine, error) {
	if err := initial.validate(); err != nil {
		return nil, err
	}
	e := &Engine{kv: gateway}
	e.snapshot.Store(&initial)
	return e, nil
}

// Snapshot returns the currently published configuration. Callers must
// not mutate the returned value; use Reconfigure to publish a new one.
func (e *Engine) Snapshot() Config {
	return *e.snapshot.Load()
}

// Reconfigure atomically swaps in a new configuration. In-flight
// admissions that already loaded the previous snapshot run to
// completion against it — there is no restart and no partial update
// (spec §4.4 "Live reconfiguration").
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	clone := cfg.Clone()
	e.snapshot.Store(&clone)
	return nil
}

// PartitionKey computes the partition for a request: "ip:<remote-ip>" for
// anonymous callers, "account:<user-id>" for authenticated ones (spec
// §4.4 "Partition key").
func PartitionKey(userID, remoteIP string) (string, Mode) {
	if userID != "" {
		return "account:" + userID, ModeAccount
	}
	return "ip:" + remoteIP, ModeIP
}

func bucketKey(partition, policy string, periodSeconds int) string {
	return fmt.Sprintf("%s%s:%s:%d", bucketKeyPrefix, partition, policy, periodSeconds)
}

func timeoutKey(partition, policy string) string {
	return timeoutKeyPrefix + partition + ":" + policy
}

// Admit runs the admission algorithm of spec §4.4 for path under
// partition. If the engine is disabled in the current snapshot, every
// request is admitted with no policy metadata.
func (e *Engine) Admit(ctx context.Context, partition Mode, partitionKey, path string) (Result, error) {
	cfg := e.Snapshot()
	if !cfg.Enabled {
		return Result{Admitted: true}, nil
	}

	policy := cfg.resolvePolicy(path)

	tkey := timeoutKey(partitionKey, policy.Name)
	ttl, err := e.kv.TTL(ctx, tkey)
	if err != nil {
		return Result{}, errs.Wrap(errs.TransientFailure, err)
	}
	if ttl > 0 {
		e.metrics.denied.Add(1)
		return Result{
			Admitted:          false,
			PolicyName:        policy.Name,
			Mode:              partition,
			RetryAfterSeconds: int(ttl.Seconds()) + 1,
		}, nil
	}

	statuses := make([]RuleStatus, 0, len(policy.Rules))
	for _, rule := range policy.Rules {
		bkey := bucketKey(partitionKey, policy.Name, rule.PeriodSeconds)
		count, err := e.kv.IncrementWithExpiry(ctx, bkey, rule.period())
		if err != nil {
			return Result{}, errs.Wrap(errs.TransientFailure, err)
		}
		if count == 1 {
			e.metrics.bucketsCreated.Add(1)
		}

		status := RuleStatus{
			MaxHits:        rule.MaxHits,
			PeriodSeconds:  rule.PeriodSeconds,
			TimeoutSeconds: rule.TimeoutSeconds,
			Count:          count,
		}

		if count > int64(rule.MaxHits) {
			if err := e.kv.SetWithTTL(ctx, tkey, "1", rule.timeout()); err != nil {
				return Result{}, errs.Wrap(errs.TransientFailure, err)
			}
			e.metrics.timeoutsCreated.Add(1)
			e.metrics.denied.Add(1)
			status.SecondsUntilTimeoutEnd = rule.TimeoutSeconds
			statuses = append(statuses, status)
			return Result{
				Admitted:          false,
				PolicyName:        policy.Name,
				Mode:              partition,
				Rules:             statuses,
				RetryAfterSeconds: rule.TimeoutSeconds,
			}, nil
		}

		statuses = append(statuses, status)
	}

	e.metrics.admitted.Add(1)
	return Result{
		Admitted:   true,
		PolicyName: policy.Name,
		Mode:       partition,
		Rules:      statuses,
	}, nil
}

// ResetPartition clears the bucket and timeout for (partitionKey,
// policyName) across every period the policy currently defines — the
// admin "clear a bucket or timeout" operation (spec §4.7).
func (e *Engine) ResetPartition(ctx context.Context, partitionKey, policyName string) error {
	cfg := e.Snapshot()
	policy, ok := cfg.Policies[policyName]
	if !ok {
		return errs.New(errs.NotFound, "policy %q not found", policyName)
	}
	keys := []string{timeoutKey(partitionKey, policyName)}
	for _, r := range policy.Rules {
		keys = append(keys, bucketKey(partitionKey, policyName, r.PeriodSeconds))
	}
	if err := e.kv.Delete(ctx, keys...); err != nil {
		return errs.Wrap(errs.TransientFailure, err)
	}
	return nil
}

// Metrics is the admin-facing snapshot of engine activity (spec §4.4
// "Metrics").
type Metrics struct {
	BucketsCreated  int64
	TimeoutsCreated int64
	Admitted        int64
	Denied          int64
}

func (e *Engine) Metrics() Metrics {
	return Metrics{
		BucketsCreated:  e.metrics.bucketsCreated.Load(),
		TimeoutsCreated: e.metrics.timeoutsCreated.Load(),
		Admitted:        e.metrics.admitted.Load(),
		Denied:          e.metrics.denied.Load(),
	}
}

// Headers renders Result as the header set of spec §6.
func (r Result) Headers() map[string]string {
	h := map[string]string{}
	if r.PolicyName == "" {
		return h
	}
	h["X-Rate-Limit-Policy"] = r.PolicyName

	modeLabel := "Ip"
	headerMode := "ip"
	if r.Mode == ModeAccount {
		modeLabel = "Account"
		headerMode = "account"
	}
	h["X-Rate-Limit-Rules"] = headerMode

	rules := make([]string, len(r.Rules))
	states := make([]string, len(r.Rules))
	for i, rs := range r.Rules {
		rules[i] = fmt.Sprintf("%d:%d:%d", rs.MaxHits, rs.PeriodSeconds, rs.TimeoutSeconds)
		if rs.SecondsUntilTimeoutEnd > 0 {
			states[i] = fmt.Sprintf("%d:%d:%d", rs.Count, rs.PeriodSeconds, rs.SecondsUntilTimeoutEnd)
		} else {
			states[i] = fmt.Sprintf("%d:%d", rs.Count, rs.PeriodSeconds)
		}
	}
	h["X-Rate-Limit-"+modeLabel] = strings.Join(rules, ",")
	h["X-Rate-Limit-"+modeLabel+"-State"] = strings.Join(states, ",")
	return h
}
