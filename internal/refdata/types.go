package refdata

import "fmt"

// Item represents a game type from the static data export.
type Item struct {
	ID               int32
	Name             string
	GroupID          int32
	CategoryID       int32
	MetaGroupID      int32   // 0 when the type has none
	Volume           float64 // assembled volume in m³
	RepackagedVolume float64 // 0 when the type has no repackaged form
}

// ItemGroup represents group-level metadata used for classification.
type ItemGroup struct {
	ID         int32
	Name       string
	CategoryID int32
}

// Activity is the mode of a blueprint job.
type Activity int

const (
	ActivityManufacturing Activity = iota
	ActivityReaction
	ActivityInvention
	ActivityCopying
	ActivityMEResearch
	ActivityTEResearch
)

// String returns the ESI wire name of the activity.
func (a Activity) String() string {
	switch a {
	case ActivityManufacturing:
		return "manufacturing"
	case ActivityReaction:
		return "reaction"
	case ActivityInvention:
		return "invention"
	case ActivityCopying:
		return "copying"
	case ActivityMEResearch:
		return "researching_material_efficiency"
	case ActivityTEResearch:
		return "researching_time_efficiency"
	default:
		return fmt.Sprintf("activity(%d)", int(a))
	}
}

// ActivityFromString parses an ESI activity name. Unknown names map to
// (0, false) so callers can skip jobs they do not understand.
func ActivityFromString(s string) (Activity, bool) {
	switch s {
	case "manufacturing":
		return ActivityManufacturing, true
	case "reaction", "reactions":
		return ActivityReaction, true
	case "invention":
		return ActivityInvention, true
	case "copying":
		return ActivityCopying, true
	case "researching_material_efficiency":
		return ActivityMEResearch, true
	case "researching_time_efficiency":
		return ActivityTEResearch, true
	default:
		return 0, false
	}
}

// SystemIndex holds per-system cost indices by activity.
// The zero value is valid and means "unknown system".
type SystemIndex struct {
	Manufacturing float64
	Reaction      float64
}

// ForActivity returns the index applicable to the given activity.
func (s SystemIndex) ForActivity(a Activity) float64 {
	if a == ActivityReaction {
		return s.Reaction
	}
	return s.Manufacturing
}

// BlueprintBonus is a per-blueprint ME/TE override. Fractions are in
// [0,1] and are applied as final = base * (1 - fraction).
type BlueprintBonus struct {
	MaterialFraction float64
	TimeFraction     float64
}
