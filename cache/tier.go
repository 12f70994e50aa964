package cache

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Tier is the expiry class a cache definition declares.
type Tier int

const (
	TierUnset Tier = iota
	// TierVerySmall is for hot listings that change constantly.
	TierVerySmall
	// TierSmall is for short-lived guards and per-request data.
	TierSmall
	// TierMedium is for per-entity records.
	TierMedium
	// TierLarge is for slow-changing aggregates and configuration.
	TierLarge
)

var tierNames = map[Tier]string{
	TierVerySmall: "very_small",
	TierSmall:     "small",
	TierMedium:    "medium",
	TierLarge:     "large",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unset"
}

// ParseTier converts a tier name such as "medium" or "very-small".
func ParseTier(s string) (Tier, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for tier, name := range tierNames {
		if name == norm {
			return tier, nil
		}
	}
	return TierUnset, errors.Newf("cache: unknown tier %q", s)
}

// Tiers maps each tier to its TTL.
type Tiers map[Tier]time.Duration

// DefaultTiers returns the stock TTL for every tier.
func DefaultTiers() Tiers {
	return Tiers{
		TierVerySmall: 30 * time.Second,
		TierSmall:     5 * time.Minute,
		TierMedium:    30 * time.Minute,
		TierLarge:     24 * time.Hour,
	}
}

// Merge returns a copy of t with every positive duration in overrides applied.
func (t Tiers) Merge(overrides Tiers) Tiers {
	out := make(Tiers, len(t))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Duration returns the TTL for tier, falling back to the stock value.
func (t Tiers) Duration(tier Tier) time.Duration {
	if d, ok := t[tier]; ok && d > 0 {
		return d
	}
	return DefaultTiers()[tier]
}
