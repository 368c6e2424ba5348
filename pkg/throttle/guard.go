// Package throttle implements fixed-window attempt limiting keyed by an
// arbitrary string. Two backends share the Guard contract: MemoryGuard keeps
// per-instance counters and RedisGuard centralizes them across instances.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Policy bounds the number of hits a key may make inside one window.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Max <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool

	// Remaining hits left in the current window, zero once denied.
	Remaining int

	// RetryAfter is set when denied and is always positive.
	RetryAfter time.Duration
}

// Guard records one hit against key and reports whether it is within policy.
// Implementations must be safe for concurrent use.
type Guard interface {
	Check(ctx context.Context, key string, p Policy) (Decision, error)
}

var ErrInvalidPolicy = errors.New("throttle: invalid policy")

// Built-in policies. Override with THROTTLE_<NAME>_MAX and
// THROTTLE_<NAME>_WINDOW via PolicyFromEnv.
var (
	LoginPolicy    = Policy{Name: "login", Max: 5, Window: 5 * time.Minute}
	RenewPolicy    = Policy{Name: "renew", Max: 10, Window: time.Minute}
	SessionsPolicy = Policy{Name: "sessions", Max: 30, Window: time.Minute}
	DefaultPolicy  = Policy{Name: "default", Max: 100, Window: time.Minute}
)

// Policies groups the policies the auth surface enforces.
type Policies struct {
	Login    Policy
	Renew    Policy
	Sessions Policy
	Default  Policy
}

// DefaultPolicies returns the built-in policy set.
func DefaultPolicies() Policies {
	return Policies{
		Login:    LoginPolicy,
		Renew:    RenewPolicy,
		Sessions: SessionsPolicy,
		Default:  DefaultPolicy,
	}
}

// PoliciesFromEnv applies environment overrides to the built-in set.
func PoliciesFromEnv() (Policies, error) {
	var (
		out Policies
		err error
	)
	if out.Login, err = PolicyFromEnv(LoginPolicy); err != nil {
		return Policies{}, err
	}
	if out.Renew, err = PolicyFromEnv(RenewPolicy); err != nil {
		return Policies{}, err
	}
	if out.Sessions, err = PolicyFromEnv(SessionsPolicy); err != nil {
		return Policies{}, err
	}
	if out.Default, err = PolicyFromEnv(DefaultPolicy); err != nil {
		return Policies{}, err
	}
	return out, nil
}

// PolicyFromEnv reads THROTTLE_<NAME>_MAX (integer) and
// THROTTLE_<NAME>_WINDOW (Go duration) on top of def. Malformed values are
// errors rather than silently ignored.
func PolicyFromEnv(def Policy) (Policy, error) {
	p := def
	prefix := "THROTTLE_" + strings.ToUpper(def.Name)

	if v := os.Getenv(prefix + "_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Policy{}, fmt.Errorf("%s_MAX: invalid value %q", prefix, v)
		}
		p.Max = n
	}

	if v := os.Getenv(prefix + "_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Policy{}, fmt.Errorf("%s_WINDOW: invalid value %q", prefix, v)
		}
		p.Window = d
	}

	return p, nil
}

// Key joins the non-empty parts with "|", producing keys like
// "login|203.0.113.7|alice".
func Key(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "|")
}
