package types

import "strings"

// MemoryType is one of nine cognitive categories, each with its own decay
// half-life.
type MemoryType string

const (
	MemoryWorking          MemoryType = "working"
	MemoryEpisodic         MemoryType = "episodic"
	MemoryProspective      MemoryType = "prospective"
	MemoryImplicit         MemoryType = "implicit"
	MemoryDeclarative      MemoryType = "declarative"
	MemoryProcedural       MemoryType = "procedural"
	MemorySemantic         MemoryType = "semantic"
	MemoryAutobiographical MemoryType = "autobiographical"
	MemoryMetaCognitive    MemoryType = "meta-cognitive"
)

// DefaultMemoryType is assigned when the parser could not infer a type.
const DefaultMemoryType = MemoryDeclarative

// fallbackHalfLifeDays applies to unknown memory types.
const fallbackHalfLifeDays = 60

// halfLives maps each type to its half-life in days; 0 disables decay.
var halfLives = map[MemoryType]float64{
	MemoryWorking:          1,
	MemoryEpisodic:         7,
	MemoryProspective:      14,
	MemoryImplicit:         30,
	MemoryDeclarative:      60,
	MemoryProcedural:       90,
	MemorySemantic:         180,
	MemoryAutobiographical: 365,
	MemoryMetaCognitive:    0,
}

// IsValid reports whether m is one of the nine memory types.
func (m MemoryType) IsValid() bool {
	_, ok := halfLives[MemoryType(strings.ToLower(string(m)))]
	return ok
}

// HalfLifeDays returns the type's decay half-life and whether the type decays.
func (m MemoryType) HalfLifeDays() (float64, bool) {
	h, ok := halfLives[MemoryType(strings.ToLower(string(m)))]
	if !ok {
		return fallbackHalfLifeDays, true
	}
	return h, h > 0
}
