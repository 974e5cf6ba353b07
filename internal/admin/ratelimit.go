package admin

import (
	"context"
	"fmt"

	"github.com/nimbus-tales/aegis-gateway/internal/audit"
	"github.com/nimbus-tales/aegis-gateway/internal/errs"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
)

// RateLimitAdmin exposes the rate-limit control-plane operations of spec
// §6 "HTTP (rate limiting admin)".
type RateLimitAdmin struct {
	mutationLogger
	engine *ratelimit.Engine
}

func NewRateLimitAdmin(engine *ratelimit.Engine, auditLog *audit.Log) *RateLimitAdmin {
	return &RateLimitAdmin{mutationLogger: mutationLogger{audit: auditLog}, engine: engine}
}

// Config returns the full current snapshot (spec §6 "GET …/config").
func (a *RateLimitAdmin) Config() ratelimit.Config {
	return a.engine.Snapshot()
}

// SetConfig replaces the whole snapshot (spec §6 "POST …/config").
func (a *RateLimitAdmin) SetConfig(ctx context.Context, actorUserID string, cfg ratelimit.Config) error {
	if err := a.engine.Reconfigure(cfg); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.config", "replaced full snapshot")
	return nil
}

// UpsertPolicy adds or replaces a named policy (spec §6 "POST
// …/policies").
func (a *RateLimitAdmin) UpsertPolicy(ctx context.Context, actorUserID string, policy ratelimit.Policy) error {
	cfg := a.engine.Snapshot().Clone()
	if cfg.Policies == nil {
		cfg.Policies = map[string]ratelimit.Policy{}
	}
	cfg.Policies[policy.Name] = policy
	if err := a.engine.Reconfigure(cfg); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.policy.upsert", policy.Name)
	return nil
}

// DeletePolicy removes a named policy, refusing if it is the default or
// still referenced by a mapping (spec §6 "DELETE …/policies").
func (a *RateLimitAdmin) DeletePolicy(ctx context.Context, actorUserID, name string) error {
	cfg := a.engine.Snapshot().Clone()
	if _, ok := cfg.Policies[name]; !ok {
		return errs.New(errs.NotFound, "policy %q not found", name)
	}
	if cfg.DefaultPolicy == name {
		return errs.New(errs.Conflict, "cannot delete the default policy")
	}
	for pattern, policyName := range cfg.Mappings {
		if policyName == name {
			return errs.New(errs.Conflict, "policy %q is still mapped from pattern %q", name, pattern)
		}
	}
	delete(cfg.Policies, name)
	if err := a.engine.Reconfigure(cfg); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.policy.delete", name)
	return nil
}

// UpsertMapping binds an endpoint pattern to a policy name (spec §6
// "POST …/mappings").
func (a *RateLimitAdmin) UpsertMapping(ctx context.Context, actorUserID, pattern, policyName string) error {
	cfg := a.engine.Snapshot().Clone()
	if _, ok := cfg.Policies[policyName]; !ok {
		return errs.New(errs.NotFound, "policy %q not found", policyName)
	}
	if cfg.Mappings == nil {
		cfg.Mappings = map[string]string{}
	}
	cfg.Mappings[pattern] = policyName
	if err := a.engine.Reconfigure(cfg); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.mapping.upsert", fmt.Sprintf("%s -> %s", pattern, policyName))
	return nil
}

// DeleteMapping removes an endpoint-pattern mapping (spec §6 "DELETE
// …/mappings").
func (a *RateLimitAdmin) DeleteMapping(ctx context.Context, actorUserID, pattern string) error {
	cfg := a.engine.Snapshot().Clone()
	if _, ok := cfg.Mappings[pattern]; !ok {
		return errs.New(errs.NotFound, "mapping %q not found", pattern)
	}
	delete(cfg.Mappings, pattern)
	if err := a.engine.Reconfigure(cfg); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.mapping.delete", pattern)
	return nil
}

// SetDefaultPolicy changes which policy backs unmapped endpoints (spec
// §6 "…/default-policy").
func (a *RateLimitAdmin) SetDefaultPolicy(ctx context.Context, actorUserID, policyName string) error {
	cfg := a.engine.Snapshot().Clone()
	if _, ok := cfg.Policies[policyName]; !ok {
		return errs.New(errs.NotFound, "policy %q not found", policyName)
	}
	cfg.DefaultPolicy = policyName
	if err := a.engine.Reconfigure(cfg); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.default_policy", policyName)
	return nil
}

// SetEnabled toggles the engine-wide kill switch (spec §6 "…/enabled",
// scenario 6).
func (a *RateLimitAdmin) SetEnabled(ctx context.Context, actorUserID string, enabled bool) error {
	cfg := a.engine.Snapshot().Clone()
	cfg.Enabled = enabled
	if err := a.engine.Reconfigure(cfg); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.enabled", fmt.Sprintf("%v", enabled))
	return nil
}

// Metrics returns the engine's activity counters (spec §6 "…/metrics").
func (a *RateLimitAdmin) Metrics() ratelimit.Metrics {
	return a.engine.Metrics()
}

// Reset clears a partition's buckets and timeout for one policy (spec §6
// "…/reset").
func (a *RateLimitAdmin) Reset(ctx context.Context, actorUserID, partitionKey, policyName string) error {
	if err := a.engine.ResetPartition(ctx, partitionKey, policyName); err != nil {
		return err
	}
	a.logMutation(ctx, actorUserID, "ratelimit.reset", fmt.Sprintf("%s/%s", partitionKey, policyName))
	return nil
}
