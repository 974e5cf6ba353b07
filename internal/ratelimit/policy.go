package ratelimit

import (
	"strings"
	"time"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

// Rule is one (max-hits, period, timeout) triple within a policy.
type Rule struct {
	MaxHits        int `json:"maxHits"`
	PeriodSeconds  int `json:"periodSeconds"`
	TimeoutSeconds int `json:"timeoutSeconds"`
}

func (r Rule) validate() error {
	if r.MaxHits <= 0 || r.PeriodSeconds <= 0 || r.TimeoutSeconds <= 0 {
		return errs.New(errs.ValidationFailed, "rate-limit rule values must be positive integers")
	}
	return nil
}

// Policy is a name plus an ordered list of rules, evaluated in order on
// every admission (spec §3, §4.4).
type Policy struct {
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`
}

func (p Policy) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errs.New(errs.ValidationFailed, "policy name required")
	}
	if len(p.Rules) == 0 {
		return errs.New(errs.ValidationFailed, "policy %q must have at least one rule", p.Name)
	}
	for _, r := range p.Rules {
		if err := r.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Config is the admin-controlled, versioned configuration: enabled flag,
// default policy, endpoint-pattern→policy mapping, and the policy
// catalogue itself. Snapshots are immutable once published (spec §4.4,
// §9 "Configuration").
type Config struct {
	Enabled       bool              `json:"enabled"`
	DefaultPolicy string            `json:"defaultPolicy"`
	Policies      map[string]Policy `json:"policies"`
	Mappings      map[string]string `json:"mappings"` // endpoint pattern -> policy name
}

// Clone deep-copies cfg so a mutation builds a fresh snapshot rather than
// touching one that may be in use by an in-flight admission.
func (c Config) Clone() Config {
	out := Config{Enabled: c.Enabled, DefaultPolicy: c.DefaultPolicy}
	out.Policies = make(map[string]Policy, len(c.Policies))
	for k, v := range c.Policies {
		rules := make([]Rule, len(v.Rules))
		copy(rules, v.Rules)
		out.Policies[k] = Policy{Name: v.Name, Rules: rules}
	}
	out.Mappings = make(map[string]string, len(c.Mappings))
	for k, v := range c.Mappings {
		out.Mappings[k] = v
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DefaultPolicy) == "" {
		return errs.New(errs.ValidationFailed, "default policy name required")
	}
	if _, ok := c.Policies[c.DefaultPolicy]; !ok {
		return errs.New(errs.ValidationFailed, "default policy %q does not resolve", c.DefaultPolicy)
	}
	for _, p := range c.Policies {
		if err := p.validate(); err != nil {
			return err
		}
	}
	for pattern, policyName := range c.Mappings {
		if strings.TrimSpace(pattern) == "" {
			return errs.New(errs.ValidationFailed, "endpoint pattern cannot be empty")
		}
		if _, ok := c.Policies[policyName]; !ok {
			return errs.New(errs.ValidationFailed, "mapping %q references unknown policy %q", pattern, policyName)
		}
	}
	return nil
}

// resolvePolicy matches path against the endpoint-pattern map: exact
// match first, then the longest prefix with a trailing "*", falling back
// to the default policy (spec §4.4 "Partition key").
func (c Config) resolvePolicy(path string) Policy {
	if policy, ok := c.Policies[c.Mappings[path]]; ok {
		return policy
	}

	bestLen := -1
	bestName := ""
	for pattern, policyName := range c.Mappings {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestName = policyName
		}
	}
	if bestName != "" {
		if policy, ok := c.Policies[bestName]; ok {
			return policy
		}
	}

	return c.Policies[c.DefaultPolicy]
}

// period and timeout convert a rule's second counts into the durations
// used as KV expiries for its bucket and timeout keys.
func (r Rule) period() time.Duration  { return time.Duration(r.PeriodSeconds) * time.Second }
func (r Rule) timeout() time.Duration { return time.Duration(r.TimeoutSeconds) * time.Second }
