package types

import "strings"

// ImportanceTier ranks how strongly a memory should surface.
// Ordering, strongest first: constitutional, critical, important, normal,
// temporary, deprecated.
type ImportanceTier string

const (
	TierConstitutional ImportanceTier = "constitutional"
	TierCritical       ImportanceTier = "critical"
	TierImportant      ImportanceTier = "important"
	TierNormal         ImportanceTier = "normal"
	TierTemporary      ImportanceTier = "temporary"
	TierDeprecated     ImportanceTier = "deprecated"
)

// DefaultTier is used when a record carries no tier or an unknown one.
const DefaultTier = TierNormal

// TierConfig describes the behaviour attached to an importance tier.
type TierConfig struct {
	// Value is the default importance weight for records in this tier.
	Value float64

	// SearchBoost multiplies scores of records in this tier.
	SearchBoost float64

	// Decay reports whether effective importance decays over time.
	Decay bool

	// AutoExpireDays is the age after which records expire; 0 means never.
	AutoExpireDays int

	// ExcludeFromSearch hides the tier from default searches.
	ExcludeFromSearch bool

	// AlwaysSurface prepends the tier to every search result set.
	AlwaysSurface bool

	// MaxTokens bounds the token budget of an always-surfaced tier.
	MaxTokens int
}

var tierConfigs = map[ImportanceTier]TierConfig{
	TierConstitutional: {Value: 1.0, SearchBoost: 3.0, AlwaysSurface: true, MaxTokens: 2000},
	TierCritical:       {Value: 1.0, SearchBoost: 2.0},
	TierImportant:      {Value: 0.8, SearchBoost: 1.5},
	TierNormal:         {Value: 0.5, SearchBoost: 1.0, Decay: true},
	TierTemporary:      {Value: 0.3, SearchBoost: 0.5, Decay: true, AutoExpireDays: 7},
	TierDeprecated:     {Value: 0.1, SearchBoost: 0.0, ExcludeFromSearch: true},
}

// ValidTiers lists every tier from strongest to weakest.
var ValidTiers = []ImportanceTier{
	TierConstitutional, TierCritical, TierImportant, TierNormal, TierTemporary, TierDeprecated,
}

// IsValid reports whether t is a known tier (case-insensitive).
func (t ImportanceTier) IsValid() bool {
	_, ok := tierConfigs[ImportanceTier(strings.ToLower(string(t)))]
	return ok
}

// Config returns the tier's configuration, falling back to the default tier.
func (t ImportanceTier) Config() TierConfig {
	return tierConfigs[NormalizeTier(string(t))]
}

// NormalizeTier lower-cases tier and maps unknown values to DefaultTier.
func NormalizeTier(tier string) ImportanceTier {
	t := ImportanceTier(strings.ToLower(strings.TrimSpace(tier)))
	if _, ok := tierConfigs[t]; ok {
		return t
	}
	return DefaultTier
}

// ApplyTierBoost scales score by the tier's search boost.
func ApplyTierBoost(score float64, tier ImportanceTier) float64 {
	return score * tier.Config().SearchBoost
}
