package quota

import (
	"strconv"
	"strings"
)

// Behavior selects what happens once a bucket runs dry.
type Behavior int

const (
	// Blocking holds every request until a full window has elapsed
	// since the last admitted one.
	Blocking Behavior = iota
	// Throttling lets requests trickle back in at Requests/PerSeconds
	// tokens per second.
	Throttling
)

// Config describes one identifier's quota for a single request.
//
// A nil Requests means no limit is configured and every request is
// admitted. A nil PerSeconds means the quota never refills: a fixed
// allowance until exhausted.
type Config struct {
	Requests   *int64
	PerSeconds *int64
	Behavior   Behavior
}

// DefaultConfig is the quota applied when no configuration is supplied
// at all: unlimited admission under the default behavior.
func DefaultConfig() Config {
	return Config{Behavior: Blocking}
}

// ResolveConfig normalizes raw string inputs (request headers, claim
// values) into a Config. Unparseable, negative and literal zero values
// all collapse to "unset", so a client sending requests=0 gets an
// unlimited quota, not a zero one.
func ResolveConfig(requests, perSeconds, behavior string) Config {
	return Config{
		Requests:   ResolveLimit(parseNumber(requests)),
		PerSeconds: ResolveLimit(parseNumber(perSeconds)),
		Behavior:   ResolveBehavior(behavior),
	}
}

// ResolveLimit collapses zero and negative counts to nil, the same
// permissive rule ResolveConfig applies to strings.
func ResolveLimit(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}

// ResolveBehavior maps a raw behavior value to the enum. Anything not
// recognized as throttling falls back to the Blocking default.
func ResolveBehavior(raw string) Behavior {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "throttling", "throttle", "1":
		return Throttling
	default:
		return Blocking
	}
}

func parseNumber(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
