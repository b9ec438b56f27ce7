package refdata

import (
	"fmt"

	"eve-foreman/internal/logger"
)

// IndexSource provides per-system cost indices. Implemented by the ESI
// client; refreshed out-of-band and cached there.
type IndexSource interface {
	SystemIndices() (map[int32]SystemIndex, error)
}

// PriceSource provides CCP's adjusted prices used for job-cost math.
type PriceSource interface {
	AdjustedPrices() (map[int32]float64, error)
}

// Store is the read-only reference facade the engine and matcher work
// against. Static data, declared structures and bonus overrides are
// fixed at construction; live indices and prices come from the sources.
type Store struct {
	data       *Data
	structures map[int64]*Structure
	mappings   []StructureMapping
	overrides  map[int32]BlueprintBonus
	indices    IndexSource
	prices     PriceSource
}

// NewStore assembles the reference facade.
func NewStore(data *Data, structures []*Structure, mappings []StructureMapping, overrides map[int32]BlueprintBonus, indices IndexSource, prices PriceSource) *Store {
	byID := make(map[int64]*Structure, len(structures))
	for _, s := range structures {
		byID[s.ID] = s
	}
	if overrides == nil {
		overrides = map[int32]BlueprintBonus{}
	}
	return &Store{
		data:       data,
		structures: byID,
		mappings:   mappings,
		overrides:  overrides,
		indices:    indices,
		prices:     prices,
	}
}

// Snapshot captures one consistent view of the reference data for a
// single engine invocation. Live maps are pulled once; a source failure
// degrades to empty data rather than failing the plan, matching how
// unknown systems yield zero indices.
type Snapshot struct {
	data       *Data
	structures map[int64]*Structure
	mappings   []StructureMapping
	overrides  map[int32]BlueprintBonus
	indices    map[int32]SystemIndex
	prices     map[int32]float64
}

// Snapshot builds a consistent snapshot for one invocation.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		data:       s.data,
		structures: s.structures,
		mappings:   s.mappings,
		overrides:  s.overrides,
	}
	if s.indices != nil {
		idx, err := s.indices.SystemIndices()
		if err != nil {
			logger.Warn("RefData", fmt.Sprintf("cost indices unavailable: %v", err))
		} else {
			snap.indices = idx
		}
	}
	if s.prices != nil {
		prices, err := s.prices.AdjustedPrices()
		if err != nil {
			logger.Warn("RefData", fmt.Sprintf("adjusted prices unavailable: %v", err))
		} else {
			snap.prices = prices
		}
	}
	return snap
}

// Item looks up a type.
func (sn *Snapshot) Item(typeID int32) (*Item, bool) {
	return sn.data.Item(typeID)
}

// BlueprintProducing returns the manufacturing recipe for typeID if
// one exists, else the reaction recipe.
func (sn *Snapshot) BlueprintProducing(typeID int32) (*Blueprint, bool) {
	return sn.data.BlueprintProducing(typeID)
}

// Structure resolves a declared facility by ID.
func (sn *Snapshot) Structure(id int64) (*Structure, bool) {
	s, ok := sn.structures[id]
	return s, ok
}

// SystemIndexFor returns the cost indices for a system. Unknown
// systems yield the zero value, never an error.
func (sn *Snapshot) SystemIndexFor(systemID int32) SystemIndex {
	return sn.indices[systemID]
}

// AdjustedPrice returns CCP's adjusted price for a type, 0 if unknown.
func (sn *Snapshot) AdjustedPrice(typeID int32) float64 {
	return sn.prices[typeID]
}

// BonusOverride returns the per-blueprint ME/TE override, if any.
func (sn *Snapshot) BonusOverride(typeID int32) (BlueprintBonus, bool) {
	b, ok := sn.overrides[typeID]
	return b, ok
}

// EachItem calls fn for every known item type.
func (sn *Snapshot) EachItem(fn func(*Item)) {
	for _, it := range sn.data.Items {
		fn(it)
	}
}

// MapStructure walks the mapping rules in declaration order and
// returns the first structure covering the item's category or group.
func (sn *Snapshot) MapStructure(categoryID, groupID int32) (*Structure, bool) {
	for _, rule := range sn.mappings {
		if !rule.Matches(categoryID, groupID) {
			continue
		}
		if s, ok := sn.structures[rule.StructureID]; ok {
			return s, true
		}
	}
	return nil, false
}
