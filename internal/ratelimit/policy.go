package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy allows Limit requests per Window for each subject.
type Policy struct {
	Limit  int
	Window time.Duration
}

var presets = map[string]Policy{
	"default":     {Limit: 5, Window: 10 * time.Minute},
	"very-strict": {Limit: 3, Window: 5 * time.Minute},
	"strict":      {Limit: 5, Window: time.Hour},
	"moderate":    {Limit: 10, Window: time.Hour},
	"lenient":     {Limit: 20, Window: time.Hour},
	"daily":       {Limit: 50, Window: 24 * time.Hour},
}

func DefaultPolicy() Policy {
	return presets["default"]
}

// PresetByName resolves a preset; names are case-insensitive and accept
// underscores ("VERY_STRICT").
func PresetByName(name string) (Policy, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	if key == "" {
		return DefaultPolicy(), nil
	}
	p, ok := presets[key]
	if !ok {
		return Policy{}, fmt.Errorf("unknown rate limit preset %q", name)
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

// Describe renders the window the way the metadata endpoint reports it,
// e.g. "10 minutes" or "24 hours".
func (p Policy) Describe() string {
	switch {
	case p.Window%time.Hour == 0:
		return plural(int(p.Window/time.Hour), "hour")
	case p.Window%time.Minute == 0:
		return plural(int(p.Window/time.Minute), "minute")
	default:
		return plural(int(p.Window/time.Second), "second")
	}
}

func (p Policy) decide(count int64, resetAfter time.Duration) Decision {
	limit := int64(p.Limit)
	return Decision{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  max(0, limit-count),
		ResetAfter: max(0, resetAfter),
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
