package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"eve-foreman/internal/db"
	"eve-foreman/internal/plan"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		OwnerID       int64  `json:"owner_id"`
		CorporationID int64  `json:"corporation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "project name is required")
		return
	}
	project, err := s.db.CreateProject(req.Name, req.OwnerID, req.CorporationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.db.ListProjects(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.db.GetProject(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteProject(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	err := s.db.UpdateProjectStatus(r.PathValue("id"), req.Status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "project not found")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, map[string]string{"status": req.Status})
	}
}

func (s *Server) handleProjectStock(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	var stock []db.StockRow
	if err := json.NewDecoder(r.Body).Decode(&stock); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err := s.db.SetProjectStock(projectID, stock); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleProjectMisc(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	var req struct {
		Description string  `json:"description"`
		Quantity    int64   `json:"quantity"`
		CostISK     float64 `json:"cost_isk"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	id, err := s.db.AddMiscLine(projectID, req.Description, req.Quantity, req.CostISK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

// handleProjectPlan recomputes a project's build plan and persists the
// resulting targets and planned jobs. Jobs already bound to an observed
// industry job survive the re-plan.
func (s *Server) handleProjectPlan(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot()
	if !ok {
		writeNotReady(w)
		return
	}
	projectID := r.PathValue("id")
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	// Targets default to the stored ones; a body with targets replaces
	// them. Stored stock merges under any request stock.
	targets := req.Targets
	if len(targets) == 0 {
		for _, t := range project.Targets {
			targets = append(targets, plan.Target{TypeID: t.TypeID, Quantity: t.Quantity})
		}
	}
	if req.Stock == nil {
		req.Stock = make(map[int32]int64, len(project.Stock))
	}
	for _, row := range project.Stock {
		if _, overridden := req.Stock[row.TypeID]; !overridden {
			req.Stock[row.TypeID] = row.Quantity
		}
	}

	engine := plan.NewEngine(snap, s.engineOptions(&req))
	result, err := engine.Plan(targets)
	if err != nil {
		writePlanError(w, err)
		return
	}

	targetRows := make([]db.TargetRow, 0, len(targets))
	for _, t := range targets {
		targetRows = append(targetRows, db.TargetRow{TypeID: t.TypeID, Quantity: t.Quantity})
	}
	if err := s.db.SaveProjectPlan(projectID, targetRows, plannedJobInputs(result)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, planResponse{
		Nodes:    result.Nodes,
		Warnings: result.Warnings,
		Shopping: result.ShoppingList(snap),
	})
}

// plannedJobInputs flattens a plan's buildable nodes into job rows, one
// per run split, in type-ID order so re-plans persist identically.
func plannedJobInputs(result *plan.Result) []db.PlannedJobInput {
	ids := make([]int32, 0, len(result.Nodes))
	for id := range result.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var jobs []db.PlannedJobInput
	for _, id := range ids {
		node := result.Nodes[id]
		if node.Blueprint == nil {
			continue
		}
		for _, runs := range node.Runs {
			jobs = append(jobs, db.PlannedJobInput{
				ProductTypeID: node.Item.ID,
				Runs:          runs,
				Activity:      node.Blueprint.Activity,
				StructureID:   node.StructureID,
			})
		}
	}
	return jobs
}

func (s *Server) handleProjectJobs(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	jobs, err := s.db.ListPlannedJobs(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, jobs)
}

func (s *Server) handleDetectionLog(w http.ResponseWriter, r *http.Request) {
	var externalJobID int64
	if v := r.URL.Query().Get("external_job_id"); v != "" {
		externalJobID, _ = strconv.ParseInt(v, 10, 64)
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	entries, err := s.db.ListDetectionLog(externalJobID, "", limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleProjectDetectionLog(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	project, err := s.db.GetProject(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	entries, err := s.db.ListDetectionLog(0, projectID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleIgnoreJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid external job id")
		return
	}
	if err := s.db.IgnoreExternalJob(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ignored"})
}
