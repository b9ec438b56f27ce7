package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"eve-foreman/internal/plan"
	"eve-foreman/internal/refdata"
)

// planRequest is the ad-hoc plan computation body. Unset knobs fall
// back to the server config, then to the engine defaults.
type planRequest struct {
	Targets            []plan.Target           `json:"targets"`
	MaxTimeSeconds     int64                   `json:"max_time_seconds"`
	FacilityTaxRate    float64                 `json:"facility_tax_rate"`
	Blacklist          []int32                 `json:"blacklist"`
	MaxRuns            map[int32]int32         `json:"max_runs"`
	BlueprintOverrides map[int32]bonusOverride `json:"blueprint_overrides"`
	Stock              map[int32]int64         `json:"stock"`
	SkipChildren       bool                    `json:"skip_children"`
	Strict             bool                    `json:"strict"`
}

type bonusOverride struct {
	ME float64 `json:"me"`
	TE float64 `json:"te"`
}

type planResponse struct {
	Nodes    map[int32]*plan.Node `json:"nodes"`
	Warnings []string             `json:"warnings,omitempty"`
	Shopping []plan.ShoppingItem  `json:"shopping_list"`
}

// engineOptions merges config defaults with one request's overrides.
func (s *Server) engineOptions(req *planRequest) plan.Options {
	opts := plan.Options{
		MaxTimeSeconds:  s.cfg.MaxTimeSeconds,
		FacilityTaxRate: s.cfg.FacilityTaxRate,
		Blacklist:       make(map[int32]bool, len(s.cfg.Blacklist)+len(req.Blacklist)),
		MaxRuns:         make(map[int32]int32, len(s.cfg.MaxRuns)+len(req.MaxRuns)),
		Stock:           req.Stock,
		SkipChildren:    req.SkipChildren,
		Strict:          req.Strict,
	}
	for _, id := range s.cfg.Blacklist {
		opts.Blacklist[id] = true
	}
	for _, id := range req.Blacklist {
		opts.Blacklist[id] = true
	}
	for id, runs := range s.cfg.MaxRuns {
		opts.MaxRuns[id] = runs
	}
	for id, runs := range req.MaxRuns {
		opts.MaxRuns[id] = runs
	}
	if req.MaxTimeSeconds > 0 {
		opts.MaxTimeSeconds = req.MaxTimeSeconds
	}
	if req.FacilityTaxRate > 0 {
		opts.FacilityTaxRate = req.FacilityTaxRate
	}
	if len(req.BlueprintOverrides) > 0 {
		opts.BlueprintOverrides = make(map[int32]refdata.BlueprintBonus, len(req.BlueprintOverrides))
		for id, o := range req.BlueprintOverrides {
			opts.BlueprintOverrides[id] = refdata.BlueprintBonus{
				MaterialFraction: o.ME,
				TimeFraction:     o.TE,
			}
		}
	}
	return opts
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot()
	if !ok {
		writeNotReady(w)
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	engine := plan.NewEngine(snap, s.engineOptions(&req))
	result, err := engine.Plan(req.Targets)
	if err != nil {
		writePlanError(w, err)
		return
	}
	writeJSON(w, planResponse{
		Nodes:    result.Nodes,
		Warnings: result.Warnings,
		Shopping: result.ShoppingList(snap),
	})
}

// writePlanError maps engine failures onto HTTP status codes. A failed
// plan never returns partial results.
func writePlanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plan.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, plan.ErrItemUnknown), errors.Is(err, plan.ErrBlueprintMissing):
		writeError(w, http.StatusNotFound, err.Error())
	case plan.IsCyclic(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleItemSearch(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot()
	if !ok {
		writeNotReady(w)
		return
	}
	query := r.URL.Query().Get("q")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	writeJSON(w, plan.SearchItems(snap, query, limit))
}
