package plan

import (
	"fmt"
	"math"

	"eve-foreman/internal/refdata"
)

// DefaultMaxTimeSeconds is the per-job time ceiling applied when the
// caller does not set one (3 days).
const DefaultMaxTimeSeconds = 259200

// DefaultFacilityTaxRate is the facility tax applied when the caller
// does not set one.
const DefaultFacilityTaxRate = 0.0025

// Target is one desired finished product.
type Target struct {
	TypeID   int32 `json:"type_id"`
	Quantity int64 `json:"quantity"`
}

// Options configures one plan invocation. Zero values fall back to the
// package defaults where one exists.
type Options struct {
	Blacklist          map[int32]bool                    // never expanded, bought as materials
	BlueprintOverrides map[int32]refdata.BlueprintBonus  // forced ME/TE per product type
	MaxRuns            map[int32]int32                   // per-product run cap, min'd with the blueprint's
	MaxTimeSeconds     int64                             // per-job time ceiling
	FacilityTaxRate    float64                           // default facility tax fraction
	Stock              map[int32]int64                   // on-hand quantities consumed before planning jobs
	SkipChildren       bool                              // expand exactly one level
	Strict             bool                              // fail instead of demoting unknown or blueprint-less items
}

// NodeType tags a node's tier in the dependency result.
type NodeType int

const (
	NodeMaterial NodeType = iota
	NodeIntermediate
	NodeProduct
)

func (t NodeType) String() string {
	switch t {
	case NodeMaterial:
		return "material"
	case NodeIntermediate:
		return "intermediate"
	case NodeProduct:
		return "product"
	default:
		return fmt.Sprintf("nodetype(%d)", int(t))
	}
}

// BlueprintInfo carries the recipe facts a consumer needs for display.
type BlueprintInfo struct {
	BlueprintTypeID   int32   `json:"blueprint_type_id"`
	ProductQuantity   int32   `json:"product_quantity"`
	Activity          string  `json:"activity"`
	TimePerRunSeconds float64 `json:"time_per_run_seconds"` // after bonuses
}

// BuildCost is the job-installation cost breakdown for one node,
// summed over its planned jobs.
type BuildCost struct {
	BaseJobCost  float64 `json:"base_job_cost"` // estimated item value basis
	SystemCost   float64 `json:"system_cost"`
	FacilityTax  float64 `json:"facility_tax"`
	TotalJobCost float64 `json:"total_job_cost"`
}

// Node is one entry of the dependency result. Material nodes carry only
// Needed/Stock; buildable nodes additionally carry jobs and costs.
type Node struct {
	Item        *refdata.Item  `json:"item"`
	Type        NodeType       `json:"-"`
	TypeName    string         `json:"type"`
	Needed      float64        `json:"needed"`
	Stock       int64          `json:"stock"`
	Runs        []int32        `json:"runs,omitempty"` // one entry per planned job, full jobs first
	StructureID int64          `json:"structure_id,omitempty"`
	TimeSeconds int64          `json:"time_seconds,omitempty"`
	Cost        BuildCost      `json:"build_cost"`
	Blueprint   *BlueprintInfo `json:"blueprint,omitempty"`

	ctx        *prodContext
	buildTotal float64
	runsTotal  int64
}

// Result is the dependency result of one plan invocation.
type Result struct {
	Nodes    map[int32]*Node `json:"nodes"`
	Warnings []string        `json:"warnings,omitempty"`
}

// prodContext caches the resolved production parameters of a buildable
// node: recipe, assigned facility and combined bonus multipliers.
type prodContext struct {
	bp           *refdata.Blueprint
	structure    *refdata.Structure
	sysIndex     refdata.SystemIndex
	matMult      float64
	timePerRun   float64
	costFraction float64
	taxRate      float64
	effPerRun    []float64 // aligned with bp.Materials, after bonuses and rounding
}

// Engine expands target lists into dependency results against one
// reference snapshot. Engines are request-scoped and hold no mutable
// state between invocations.
type Engine struct {
	snap *refdata.Snapshot
	opts Options
}

// NewEngine builds an engine over a reference snapshot.
func NewEngine(snap *refdata.Snapshot, opts Options) *Engine {
	if opts.MaxTimeSeconds <= 0 {
		opts.MaxTimeSeconds = DefaultMaxTimeSeconds
	}
	if opts.FacilityTaxRate <= 0 {
		opts.FacilityTaxRate = DefaultFacilityTaxRate
	}
	return &Engine{snap: snap, opts: opts}
}

// Plan expands the targets into a full dependency result. The result
// is deterministic: identical inputs produce identical output.
func (e *Engine) Plan(targets []Target) (*Result, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidTarget)
	}
	for _, t := range targets {
		if t.Quantity < 1 {
			return nil, fmt.Errorf("%w: type %d quantity %d", ErrInvalidTarget, t.TypeID, t.Quantity)
		}
		if _, ok := e.snap.Item(t.TypeID); !ok {
			return nil, fmt.Errorf("%w: type %d: %s", ErrInvalidTarget, t.TypeID, ErrItemUnknown)
		}
	}

	run := &planRun{
		engine: e,
		result: &Result{Nodes: make(map[int32]*Node)},
		stock:  make(map[int32]int64, len(e.opts.Stock)),
	}
	for id, qty := range e.opts.Stock {
		if qty > 0 {
			run.stock[id] = qty
		}
	}

	for _, t := range targets {
		if err := run.expand(t.TypeID, float64(t.Quantity), true, nil); err != nil {
			return nil, err
		}
	}

	run.finalize()
	return run.result, nil
}

// planRun carries the mutable state of a single expansion.
type planRun struct {
	engine *Engine
	result *Result
	stock  map[int32]int64 // remaining, consumed first-come in traversal order
}

// expand processes one demand for typeID along the current path.
// Demands for the same type accumulate into one node and runs are
// sized from the merged total, so a visit only pushes the extra runs
// it causes down to the children. Demand already covered by a prior
// visit's production excess adds no runs and no child demand.
func (r *planRun) expand(typeID int32, needed float64, isTarget bool, path []int32) error {
	for i, seen := range path {
		if seen == typeID {
			chain := append(append([]int32{}, path[i:]...), typeID)
			return &CyclicBlueprintError{Chain: chain}
		}
	}

	snap := r.engine.snap
	opts := r.engine.opts

	item, known := snap.Item(typeID)
	if !known {
		if opts.Strict {
			return fmt.Errorf("type %d: %w", typeID, ErrItemUnknown)
		}
		// Demoted to a raw material: the surrounding plan stays usable
		// even when the static data misses an input type.
		r.warnf("unknown type %d treated as material", typeID)
		r.addMaterial(&refdata.Item{ID: typeID, Name: fmt.Sprintf("Unknown Type %d", typeID)}, needed)
		return nil
	}

	bp, buildable := snap.BlueprintProducing(typeID)
	if !buildable || opts.Blacklist[typeID] {
		if opts.Strict && isTarget && !buildable && !opts.Blacklist[typeID] {
			return fmt.Errorf("target %d (%s): %w", typeID, item.Name, ErrBlueprintMissing)
		}
		r.addMaterial(item, needed)
		return nil
	}

	node := r.result.Nodes[typeID]
	if node == nil {
		node = &Node{Item: item, Type: NodeIntermediate}
		r.result.Nodes[typeID] = node
	}
	if node.ctx == nil {
		// First buildable visit. The node may pre-exist as a material
		// from a skip-children expansion of an earlier target.
		ctx := r.resolveContext(item, bp)
		node.ctx = ctx
		node.Blueprint = &BlueprintInfo{
			BlueprintTypeID:   bp.BlueprintTypeID,
			ProductQuantity:   bp.ProductQuantity,
			Activity:          bp.Activity.String(),
			TimePerRunSeconds: ctx.timePerRun,
		}
		if ctx.structure != nil {
			node.StructureID = ctx.structure.ID
		}
		if node.Type == NodeMaterial {
			node.Type = NodeIntermediate
		}
	}
	if isTarget {
		node.Type = NodeProduct
	}
	node.Needed += needed

	// Consume stock before sizing jobs for this visit.
	build := needed
	if avail := r.stock[typeID]; avail > 0 {
		take := int64(math.Ceil(build))
		if take > avail {
			take = avail
		}
		r.stock[typeID] -= take
		node.Stock += take
		build -= float64(take)
	}
	if build <= 0 {
		return nil
	}

	node.buildTotal += build
	prevRuns := node.runsTotal
	node.runsTotal = int64(math.Ceil(node.buildTotal / float64(node.ctx.bp.ProductQuantity)))
	deltaRuns := node.runsTotal - prevRuns
	if deltaRuns <= 0 {
		return nil
	}

	childPath := append(path, typeID)
	for i, mat := range node.ctx.bp.Materials {
		childNeeded := node.ctx.effPerRun[i] * float64(deltaRuns)
		if opts.SkipChildren {
			childItem, ok := snap.Item(mat.TypeID)
			if !ok {
				childItem = &refdata.Item{ID: mat.TypeID, Name: fmt.Sprintf("Unknown Type %d", mat.TypeID)}
			}
			r.addMaterial(childItem, childNeeded)
			continue
		}
		if err := r.expand(mat.TypeID, childNeeded, false, childPath); err != nil {
			return err
		}
	}
	return nil
}

// addMaterial accumulates demand into a raw-material node.
func (r *planRun) addMaterial(item *refdata.Item, needed float64) {
	node := r.result.Nodes[item.ID]
	if node == nil {
		node = &Node{Item: item, Type: NodeMaterial}
		r.result.Nodes[item.ID] = node
	}
	node.Needed += needed

	build := needed
	if avail := r.stock[item.ID]; avail > 0 {
		take := int64(math.Ceil(build))
		if take > avail {
			take = avail
		}
		r.stock[item.ID] -= take
		node.Stock += take
	}
}

// resolveContext computes the production parameters for one buildable
// type: ME/TE override, facility assignment, bonus stack, per-run
// material quantities and per-run time.
func (r *planRun) resolveContext(item *refdata.Item, bp *refdata.Blueprint) *prodContext {
	snap := r.engine.snap
	opts := r.engine.opts

	var override refdata.BlueprintBonus
	if b, ok := opts.BlueprintOverrides[item.ID]; ok {
		override = b
	} else if b, ok := snap.BonusOverride(item.ID); ok {
		override = b
	}

	ctx := &prodContext{bp: bp, taxRate: opts.FacilityTaxRate}

	var bonuses refdata.BonusSet
	if structure, ok := snap.MapStructure(item.CategoryID, item.GroupID); ok {
		ctx.structure = structure
		ctx.sysIndex = snap.SystemIndexFor(structure.SystemID)
		bonuses = structure.BonusFor(item.CategoryID, item.GroupID, bp.Activity)
		ctx.costFraction = bonuses.CostFraction
		if structure.TaxRate > 0 {
			ctx.taxRate = structure.TaxRate
		}
	} else {
		r.warnf("no structure mapping for %s (category %d, group %d)", item.Name, item.CategoryID, item.GroupID)
	}

	ctx.matMult = (1 - override.MaterialFraction) * bonuses.MaterialMultiplier()
	ctx.timePerRun = float64(bp.TimeSeconds) * (1 - override.TimeFraction) * bonuses.TimeMultiplier()

	ctx.effPerRun = make([]float64, len(bp.Materials))
	for i, mat := range bp.Materials {
		eff := float64(mat.Quantity) * ctx.matMult
		// Game-accurate integer ceiling, except inside the reaction
		// family where sub-unit quantities stay fractional.
		if eff < 1 && bp.Activity == refdata.ActivityReaction && r.isReactionProduct(mat.TypeID) {
			ctx.effPerRun[i] = eff
			continue
		}
		ctx.effPerRun[i] = math.Ceil(eff)
	}
	return ctx
}

func (r *planRun) isReactionProduct(typeID int32) bool {
	bp, ok := r.engine.snap.BlueprintProducing(typeID)
	return ok && bp.Activity == refdata.ActivityReaction
}

// finalize sizes jobs and costs for every buildable node once all
// demand has accumulated.
func (r *planRun) finalize() {
	for _, node := range r.result.Nodes {
		node.TypeName = node.Type.String()
		if node.Type == NodeMaterial || node.runsTotal == 0 {
			continue
		}
		ctx := node.ctx

		maxRuns := ctx.bp.MaxRunsPerJob
		if userCap, ok := r.engine.opts.MaxRuns[node.Item.ID]; ok && userCap > 0 && userCap < maxRuns {
			maxRuns = userCap
		}
		node.Runs = splitRuns(node.runsTotal, maxRuns, r.engine.opts.MaxTimeSeconds, ctx.timePerRun)
		node.TimeSeconds = int64(math.Round(float64(node.runsTotal) * ctx.timePerRun))

		for _, jobRuns := range node.Runs {
			cost := jobCost(ctx, r.engine.snap, int64(jobRuns))
			node.Cost.BaseJobCost += cost.BaseJobCost
			node.Cost.SystemCost += cost.SystemCost
			node.Cost.FacilityTax += cost.FacilityTax
			node.Cost.TotalJobCost += cost.TotalJobCost
		}
	}
}

func (r *planRun) warnf(format string, args ...interface{}) {
	r.result.Warnings = append(r.result.Warnings, fmt.Sprintf(format, args...))
}
