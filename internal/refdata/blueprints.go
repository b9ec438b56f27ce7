package refdata

// Blueprint represents a production recipe: inputs, one product, base
// time and the per-job run cap.
type Blueprint struct {
	BlueprintTypeID int32
	ProductTypeID   int32
	ProductQuantity int32 // per run, >= 1
	Activity        Activity
	TimeSeconds     int64 // base time per run
	MaxRunsPerJob   int32 // >= 1
	Materials       []Material
}

// Material is a single input requirement per run, before bonuses.
type Material struct {
	TypeID   int32
	Quantity int32
}

// blueprintIndex holds producing-blueprint lookups split by activity.
// An item has at most one producer per activity family; manufacturing
// wins over reaction when both exist.
type blueprintIndex struct {
	byBlueprint    map[int32]*Blueprint // blueprintTypeID -> recipe (one per activity kept)
	manufacturing  map[int32]*Blueprint // productTypeID -> manufacturing recipe
	reaction       map[int32]*Blueprint // productTypeID -> reaction recipe
}

func newBlueprintIndex() *blueprintIndex {
	return &blueprintIndex{
		byBlueprint:   make(map[int32]*Blueprint),
		manufacturing: make(map[int32]*Blueprint),
		reaction:      make(map[int32]*Blueprint),
	}
}

func (idx *blueprintIndex) add(bp *Blueprint) {
	if bp.ProductTypeID == 0 {
		return
	}
	if bp.ProductQuantity < 1 {
		bp.ProductQuantity = 1
	}
	if bp.MaxRunsPerJob < 1 {
		bp.MaxRunsPerJob = 1
	}
	idx.byBlueprint[bp.BlueprintTypeID] = bp
	switch bp.Activity {
	case ActivityManufacturing:
		idx.manufacturing[bp.ProductTypeID] = bp
	case ActivityReaction:
		idx.reaction[bp.ProductTypeID] = bp
	}
}

// producing returns the blueprint that produces typeID: the
// manufacturing recipe if one exists, else the reaction recipe.
func (idx *blueprintIndex) producing(typeID int32) (*Blueprint, bool) {
	if bp, ok := idx.manufacturing[typeID]; ok {
		return bp, true
	}
	if bp, ok := idx.reaction[typeID]; ok {
		return bp, true
	}
	return nil, false
}
