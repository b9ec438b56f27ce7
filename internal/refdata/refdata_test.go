package refdata

import (
	"math"
	"testing"
)

func TestBlueprintProducing_PrefersManufacturing(t *testing.T) {
	d := NewData()
	d.AddBlueprint(&Blueprint{BlueprintTypeID: 100, ProductTypeID: 5, ProductQuantity: 1, Activity: ActivityReaction, MaxRunsPerJob: 100})
	d.AddBlueprint(&Blueprint{BlueprintTypeID: 101, ProductTypeID: 5, ProductQuantity: 1, Activity: ActivityManufacturing, MaxRunsPerJob: 100})

	bp, ok := d.BlueprintProducing(5)
	if !ok {
		t.Fatal("BlueprintProducing(5) not found")
	}
	if bp.Activity != ActivityManufacturing {
		t.Errorf("activity = %v, want manufacturing", bp.Activity)
	}
	if bp.BlueprintTypeID != 101 {
		t.Errorf("blueprint = %d, want 101", bp.BlueprintTypeID)
	}
}

func TestBlueprintProducing_FallsBackToReaction(t *testing.T) {
	d := NewData()
	d.AddBlueprint(&Blueprint{BlueprintTypeID: 100, ProductTypeID: 5, ProductQuantity: 200, Activity: ActivityReaction, MaxRunsPerJob: 100})

	bp, ok := d.BlueprintProducing(5)
	if !ok || bp.Activity != ActivityReaction {
		t.Fatalf("BlueprintProducing(5) = %v, %v; want reaction recipe", bp, ok)
	}
	if _, ok := d.BlueprintProducing(6); ok {
		t.Error("BlueprintProducing(6) should not exist")
	}
}

func TestBlueprintIndex_NormalizesInvalidFields(t *testing.T) {
	d := NewData()
	d.AddBlueprint(&Blueprint{BlueprintTypeID: 1, ProductTypeID: 9, ProductQuantity: 0, Activity: ActivityManufacturing, MaxRunsPerJob: 0})

	bp, _ := d.BlueprintProducing(9)
	if bp.ProductQuantity != 1 || bp.MaxRunsPerJob != 1 {
		t.Errorf("got qty=%d maxRuns=%d, want both 1", bp.ProductQuantity, bp.MaxRunsPerJob)
	}
}

func TestActivityFromString(t *testing.T) {
	cases := []struct {
		in   string
		want Activity
		ok   bool
	}{
		{"manufacturing", ActivityManufacturing, true},
		{"reaction", ActivityReaction, true},
		{"reactions", ActivityReaction, true},
		{"researching_material_efficiency", ActivityMEResearch, true},
		{"gardening", 0, false},
	}
	for _, c := range cases {
		got, ok := ActivityFromString(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("ActivityFromString(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestStructureBonusFor_HullAndRig(t *testing.T) {
	// Raitaru with a ship ME rig: 1% hull material, 2% rig material at
	// highsec magnitude, 15% hull time, applied to category 6 only.
	s := NewStructure(1001, "Test Raitaru", 30000142, StructureRaitaru, SecurityHighsec, []int32{43867}, 0)

	set := s.BonusFor(6, 25, ActivityManufacturing)
	if set.StructureMaterial != 0.01 || set.StructureTime != 0.15 {
		t.Errorf("hull bonuses = %v/%v, want 0.01/0.15", set.StructureMaterial, set.StructureTime)
	}
	if len(set.RigMaterial) != 1 || set.RigMaterial[0] != 0.02 {
		t.Errorf("rig material = %v, want [0.02]", set.RigMaterial)
	}

	// Different category: rig does not apply, hull still does.
	set = s.BonusFor(4, 428, ActivityManufacturing)
	if len(set.RigMaterial) != 0 {
		t.Errorf("rig material for non-matching category = %v, want none", set.RigMaterial)
	}
	if set.StructureMaterial != 0.01 {
		t.Errorf("hull material = %v, want 0.01", set.StructureMaterial)
	}

	// Reaction activity on an engineering complex: no bonuses at all.
	set = s.BonusFor(4, 428, ActivityReaction)
	if set.StructureMaterial != 0 || set.StructureTime != 0 || len(set.RigMaterial) != 0 {
		t.Errorf("reaction bonuses on raitaru = %+v, want zero set", set)
	}
}

func TestStructureBonusFor_SecurityMultiplier(t *testing.T) {
	s := NewStructure(1002, "Null Raitaru", 30004759, StructureRaitaru, SecurityNullsec, []int32{43867}, 0)
	set := s.BonusFor(6, 25, ActivityManufacturing)
	if len(set.RigMaterial) != 1 || math.Abs(set.RigMaterial[0]-0.042) > 1e-9 {
		t.Errorf("nullsec rig material = %v, want [0.042]", set.RigMaterial)
	}
}

func TestBonusSetMultipliers(t *testing.T) {
	set := BonusSet{StructureMaterial: 0.01, RigMaterial: []float64{0.024}}
	want := 0.99 * 0.976
	if got := set.MaterialMultiplier(); math.Abs(got-want) > 1e-12 {
		t.Errorf("MaterialMultiplier = %v, want %v", got, want)
	}
	if got := (BonusSet{}).TimeMultiplier(); got != 1 {
		t.Errorf("zero TimeMultiplier = %v, want 1", got)
	}
}

func TestSnapshot_MappingFirstMatchWins(t *testing.T) {
	a := NewStructure(1, "A", 1, StructureRaitaru, SecurityHighsec, nil, 0)
	b := NewStructure(2, "B", 1, StructureAzbel, SecurityHighsec, nil, 0)
	store := NewStore(NewData(), []*Structure{a, b}, []StructureMapping{
		{StructureID: 1, CategoryIDs: []int32{6}},
		{StructureID: 2, CategoryIDs: []int32{6, 7}},
	}, nil, nil, nil)
	snap := store.Snapshot()

	got, ok := snap.MapStructure(6, 0)
	if !ok || got.ID != 1 {
		t.Errorf("MapStructure(6) = %v, %v; want structure 1", got, ok)
	}
	got, ok = snap.MapStructure(7, 0)
	if !ok || got.ID != 2 {
		t.Errorf("MapStructure(7) = %v, %v; want structure 2", got, ok)
	}
	if _, ok := snap.MapStructure(99, 0); ok {
		t.Error("MapStructure(99) should not match")
	}
}

func TestSnapshot_UnknownSystemIndexIsZero(t *testing.T) {
	snap := NewStore(NewData(), nil, nil, nil, nil, nil).Snapshot()
	idx := snap.SystemIndexFor(42)
	if idx.Manufacturing != 0 || idx.Reaction != 0 {
		t.Errorf("SystemIndexFor(42) = %+v, want zero value", idx)
	}
	if p := snap.AdjustedPrice(34); p != 0 {
		t.Errorf("AdjustedPrice(34) = %v, want 0", p)
	}
}
