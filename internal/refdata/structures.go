package refdata

import "strings"

// StructureType identifies the hull of a facility.
type StructureType int

const (
	StructureNPC StructureType = iota
	StructureRaitaru
	StructureAzbel
	StructureSotiyo
	StructureAthanor
	StructureTatara
)

// Security is the security band of the structure's solar system.
type Security int

const (
	SecurityHighsec Security = iota
	SecurityLowsec
	SecurityNullsec
)

// StructureTypeFromString parses a config value like "raitaru".
func StructureTypeFromString(s string) (StructureType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "npc", "station", "":
		return StructureNPC, true
	case "raitaru":
		return StructureRaitaru, true
	case "azbel":
		return StructureAzbel, true
	case "sotiyo":
		return StructureSotiyo, true
	case "athanor":
		return StructureAthanor, true
	case "tatara":
		return StructureTatara, true
	default:
		return StructureNPC, false
	}
}

// SecurityFromString parses a config value like "highsec".
func SecurityFromString(s string) (Security, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "highsec", "high", "":
		return SecurityHighsec, true
	case "lowsec", "low":
		return SecurityLowsec, true
	case "nullsec", "null", "wormhole", "wh":
		return SecurityNullsec, true
	default:
		return SecurityHighsec, false
	}
}

// hullBonus is the role bonus granted by a structure hull.
// Material bonuses apply only to the listed activity; time bonuses
// apply unconditionally to jobs of that activity.
type hullBonus struct {
	Activity         Activity
	MaterialFraction float64
	TimeFraction     float64
	CostFraction     float64
}

// Engineering complexes bonus manufacturing, refineries bonus reactions.
var hullBonuses = map[StructureType]hullBonus{
	StructureRaitaru: {ActivityManufacturing, 0.01, 0.15, 0.03},
	StructureAzbel:   {ActivityManufacturing, 0.01, 0.20, 0.04},
	StructureSotiyo:  {ActivityManufacturing, 0.01, 0.30, 0.05},
	StructureAthanor: {ActivityReaction, 0, 0, 0},
	StructureTatara:  {ActivityReaction, 0, 0.25, 0},
}

// rigSpec describes a Standup rig's bonuses at highsec magnitude and
// the item categories/groups it applies to. Magnitudes scale with the
// structure's security band.
type rigSpec struct {
	Name             string
	Activity         Activity
	MaterialFraction float64
	TimeFraction     float64
	Categories       []int32
	Groups           []int32
}

// A representative set of Standup rigs. IDs follow the SDE.
var rigSpecs = map[int32]rigSpec{
	43867: {"Standup M-Set Ship Manufacturing Material Efficiency I", ActivityManufacturing, 0.02, 0, []int32{6}, nil},
	43869: {"Standup M-Set Ship Manufacturing Time Efficiency I", ActivityManufacturing, 0, 0.20, []int32{6}, nil},
	43920: {"Standup M-Set Equipment Manufacturing Material Efficiency I", ActivityManufacturing, 0.02, 0, []int32{7, 8, 18}, nil},
	43921: {"Standup M-Set Equipment Manufacturing Time Efficiency I", ActivityManufacturing, 0, 0.20, []int32{7, 8, 18}, nil},
	43732: {"Standup M-Set Advanced Component Manufacturing Material Efficiency I", ActivityManufacturing, 0.02, 0, nil, []int32{334, 913}},
	43733: {"Standup M-Set Advanced Component Manufacturing Time Efficiency I", ActivityManufacturing, 0, 0.20, nil, []int32{334, 913}},
	46497: {"Standup M-Set Composite Reactor Material Efficiency I", ActivityReaction, 0.02, 0, nil, []int32{428}},
	46486: {"Standup M-Set Composite Reactor Time Efficiency I", ActivityReaction, 0, 0.20, nil, []int32{428}},
	46490: {"Standup M-Set Biochemical Reactor Time Efficiency I", ActivityReaction, 0, 0.20, nil, []int32{712}},
}

// Rig magnitudes scale by the structure's security band.
var securityRigMultiplier = map[Security]float64{
	SecurityHighsec: 1.0,
	SecurityLowsec:  1.9,
	SecurityNullsec: 2.1,
}

// RigBonus is one rig's resolved bonus on a concrete structure,
// security multiplier already applied.
type RigBonus struct {
	TypeID           int32
	Name             string
	Activity         Activity
	MaterialFraction float64
	TimeFraction     float64
	categories       map[int32]bool
	groups           map[int32]bool
}

// AppliesTo reports whether the rig bonuses items of the given
// category or group.
func (r RigBonus) AppliesTo(categoryID, groupID int32) bool {
	if len(r.categories) == 0 && len(r.groups) == 0 {
		return true
	}
	return r.categories[categoryID] || r.groups[groupID]
}

// Structure is a concrete facility with its rig bonuses resolved.
type Structure struct {
	ID       int64
	Name     string
	SystemID int32
	Type     StructureType
	Security Security
	TaxRate  float64 // 0 = caller's default
	Rigs     []RigBonus
}

// NewStructure resolves a structure's hull and rig list into a
// Structure with concrete bonus magnitudes. Unknown rig IDs are
// skipped.
func NewStructure(id int64, name string, systemID int32, typ StructureType, sec Security, rigTypeIDs []int32, taxRate float64) *Structure {
	s := &Structure{
		ID:       id,
		Name:     name,
		SystemID: systemID,
		Type:     typ,
		Security: sec,
		TaxRate:  taxRate,
	}
	mult := securityRigMultiplier[sec]
	for _, rigID := range rigTypeIDs {
		spec, ok := rigSpecs[rigID]
		if !ok {
			continue
		}
		rb := RigBonus{
			TypeID:           rigID,
			Name:             spec.Name,
			Activity:         spec.Activity,
			MaterialFraction: spec.MaterialFraction * mult,
			TimeFraction:     spec.TimeFraction * mult,
		}
		if len(spec.Categories) > 0 {
			rb.categories = make(map[int32]bool, len(spec.Categories))
			for _, c := range spec.Categories {
				rb.categories[c] = true
			}
		}
		if len(spec.Groups) > 0 {
			rb.groups = make(map[int32]bool, len(spec.Groups))
			for _, g := range spec.Groups {
				rb.groups[g] = true
			}
		}
		s.Rigs = append(s.Rigs, rb)
	}
	return s
}

// BonusSet is the multiplicative bonus stack a structure grants one
// item. Fractions combine as prod(1 - f).
type BonusSet struct {
	StructureMaterial float64
	StructureTime     float64
	CostFraction      float64
	RigMaterial       []float64
	RigTime           []float64
}

// MaterialMultiplier returns prod(1 - f) over all material fractions.
func (b BonusSet) MaterialMultiplier() float64 {
	m := 1 - b.StructureMaterial
	for _, f := range b.RigMaterial {
		m *= 1 - f
	}
	return m
}

// TimeMultiplier returns prod(1 - f) over all time fractions.
func (b BonusSet) TimeMultiplier() float64 {
	m := 1 - b.StructureTime
	for _, f := range b.RigTime {
		m *= 1 - f
	}
	return m
}

// BonusFor resolves the structure's bonus stack for an item of the
// given category/group built with the given activity. Hull time
// bonuses apply unconditionally for the hull's activity; hull material
// bonuses and rigs apply per their category/group lists.
func (s *Structure) BonusFor(categoryID, groupID int32, activity Activity) BonusSet {
	var set BonusSet
	if hull, ok := hullBonuses[s.Type]; ok && hull.Activity == activity {
		set.StructureMaterial = hull.MaterialFraction
		set.StructureTime = hull.TimeFraction
		set.CostFraction = hull.CostFraction
	}
	for _, rig := range s.Rigs {
		if rig.Activity != activity || !rig.AppliesTo(categoryID, groupID) {
			continue
		}
		if rig.MaterialFraction > 0 {
			set.RigMaterial = append(set.RigMaterial, rig.MaterialFraction)
		}
		if rig.TimeFraction > 0 {
			set.RigTime = append(set.RigTime, rig.TimeFraction)
		}
	}
	return set
}

// StructureMapping routes items of certain categories/groups to a
// structure. Rules are evaluated in declaration order.
type StructureMapping struct {
	StructureID int64
	CategoryIDs []int32
	GroupIDs    []int32
}

// Matches reports whether the rule covers the given category or group.
func (m StructureMapping) Matches(categoryID, groupID int32) bool {
	for _, c := range m.CategoryIDs {
		if c == categoryID {
			return true
		}
	}
	for _, g := range m.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}
