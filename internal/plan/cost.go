package plan

import "eve-foreman/internal/refdata"

// jobCost computes the installation cost of one job of `runs` runs.
// The estimated item value uses base (pre-bonus) material quantities,
// which is what the game taxes on.
func jobCost(ctx *prodContext, snap *refdata.Snapshot, runs int64) BuildCost {
	var eiv float64
	for _, mat := range ctx.bp.Materials {
		eiv += float64(mat.Quantity) * snap.AdjustedPrice(mat.TypeID) * float64(runs)
	}

	systemCost := eiv * ctx.sysIndex.ForActivity(ctx.bp.Activity) * (1 - ctx.costFraction)
	facilityTax := (eiv + systemCost) * ctx.taxRate

	return BuildCost{
		BaseJobCost:  eiv,
		SystemCost:   systemCost,
		FacilityTax:  facilityTax,
		TotalJobCost: systemCost + facilityTax,
	}
}
