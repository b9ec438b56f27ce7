package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const (
	ProjectStatusPreparing  = "preparing"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusPaused     = "paused"
	ProjectStatusDone       = "done"

	JobStatusWaiting  = "waiting"
	JobStatusBuilding = "building"
	JobStatusDone     = "done"

	DecisionMatched        = "matched"
	DecisionUnmatched      = "unmatched"
	DecisionConflict       = "conflict"
	DecisionSkippedIgnored = "skipped-ignored"
	DecisionSkippedDone    = "skipped-done"
)

// Project is a user-authored manufacturing project. Job detection is
// active only while the status is in_progress.
type Project struct {
	ID            string        `json:"id"`
	OwnerID       int64         `json:"owner_id"`
	CorporationID int64         `json:"corporation_id"`
	Name          string        `json:"name"`
	Status        string        `json:"status"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
	Targets       []TargetRow   `json:"targets,omitempty"`
	Stock         []StockRow    `json:"stock,omitempty"`
	Misc          []MiscLineRow `json:"misc,omitempty"`
}

// TargetRow is one desired output of a project.
type TargetRow struct {
	TypeID   int32 `json:"type_id"`
	Quantity int64 `json:"quantity"`
}

// StockRow is manually-entered on-hand stock.
type StockRow struct {
	TypeID   int32 `json:"type_id"`
	Quantity int64 `json:"quantity"`
}

// MiscLineRow is a free-form cost line attached to a project.
type MiscLineRow struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Quantity    int64   `json:"quantity"`
	CostISK     float64 `json:"cost_isk"`
}

// PlannedJob is one job the user intends to run. ExternalJobID is 0
// until the matcher binds an observed job to it.
type PlannedJob struct {
	ID            int64   `json:"id"`
	ProjectID     string  `json:"project_id"`
	ProductTypeID int32   `json:"product_type_id"`
	Runs          int32   `json:"runs"`
	Activity      string  `json:"activity"`
	StructureID   int64   `json:"structure_id,omitempty"`
	Status        string  `json:"status"`
	ExternalJobID int64   `json:"external_job_id,omitempty"`
	CostISK       float64 `json:"cost_isk,omitempty"`
	FacilityID    int64   `json:"facility_id,omitempty"`
	EndDate       string  `json:"end_date,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`

	// Joined from projects for deterministic candidate ordering.
	ProjectCreatedAt string `json:"-"`
}

// PlannedJobInput is one job row of a saved plan.
type PlannedJobInput struct {
	ProductTypeID int32  `json:"product_type_id"`
	Runs          int32  `json:"runs"`
	Activity      string `json:"activity"`
	StructureID   int64  `json:"structure_id"`
}

// DetectionLogEntry is one append-only matcher decision.
type DetectionLogEntry struct {
	ExternalJobID int64  `json:"external_job_id"`
	ProjectID     string `json:"project_id,omitempty"`
	PlannedJobID  int64  `json:"planned_job_id,omitempty"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	ObservedAt    string `json:"observed_at"`
}

// JobUpdate is one planned-job state transition decided by a matcher
// tick.
type JobUpdate struct {
	PlannedJobID  int64
	Status        string
	ExternalJobID int64
	CostISK       float64
	FacilityID    int64
	EndDate       string
}

func normalizeProjectStatus(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case ProjectStatusPreparing:
		return ProjectStatusPreparing
	case ProjectStatusInProgress, "inprogress":
		return ProjectStatusInProgress
	case ProjectStatusPaused:
		return ProjectStatusPaused
	case ProjectStatusDone:
		return ProjectStatusDone
	default:
		return ""
	}
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateProject inserts a new project in preparing state and returns it.
func (d *DB) CreateProject(name string, ownerID, corporationID int64) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	p := &Project{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		CorporationID: corporationID,
		Name:          name,
		Status:        ProjectStatusPreparing,
		CreatedAt:     nowUTC(),
		UpdatedAt:     nowUTC(),
	}
	_, err := d.sql.Exec(`
		INSERT INTO projects (id, owner_id, corporation_id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.OwnerID, p.CorporationID, p.Name, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// GetProject loads a project with its targets, stock and misc lines.
// Returns nil, nil when the project does not exist.
func (d *DB) GetProject(id string) (*Project, error) {
	var p Project
	err := d.sql.QueryRow(`
		SELECT id, owner_id, corporation_id, name, status, created_at, updated_at
		  FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.OwnerID, &p.CorporationID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	rows, err := d.sql.Query(`SELECT type_id, quantity FROM project_targets WHERE project_id = ? ORDER BY type_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t TargetRow
		if err := rows.Scan(&t.TypeID, &t.Quantity); err != nil {
			return nil, err
		}
		p.Targets = append(p.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stockRows, err := d.sql.Query(`SELECT type_id, quantity FROM project_stock WHERE project_id = ? ORDER BY type_id`, id)
	if err != nil {
		return nil, err
	}
	defer stockRows.Close()
	for stockRows.Next() {
		var s StockRow
		if err := stockRows.Scan(&s.TypeID, &s.Quantity); err != nil {
			return nil, err
		}
		p.Stock = append(p.Stock, s)
	}
	if err := stockRows.Err(); err != nil {
		return nil, err
	}

	miscRows, err := d.sql.Query(`SELECT id, description, quantity, cost_isk FROM project_misc WHERE project_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer miscRows.Close()
	for miscRows.Next() {
		var m MiscLineRow
		if err := miscRows.Scan(&m.ID, &m.Description, &m.Quantity, &m.CostISK); err != nil {
			return nil, err
		}
		p.Misc = append(p.Misc, m)
	}
	if err := miscRows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects, optionally filtered by status,
// newest first.
func (d *DB) ListProjects(status string) ([]Project, error) {
	q := sq.Select("id", "owner_id", "corporation_id", "name", "status", "created_at", "updated_at").
		From("projects").
		OrderBy("created_at DESC", "id")
	if normalized := normalizeProjectStatus(status); normalized != "" {
		q = q.Where(sq.Eq{"status": normalized})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Project, 0, 16)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.CorporationID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProjectsInProgress returns the projects the matcher watches,
// oldest first so detection order is stable.
func (d *DB) ListProjectsInProgress() ([]Project, error) {
	rows, err := d.sql.Query(`
		SELECT id, owner_id, corporation_id, name, status, created_at, updated_at
		  FROM projects
		 WHERE status = ?
		 ORDER BY created_at, id
	`, ProjectStatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Project, 0, 8)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.CorporationID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectStatus transitions a project. Unknown statuses are
// rejected; unknown projects report sql.ErrNoRows.
func (d *DB) UpdateProjectStatus(id, status string) error {
	normalized := normalizeProjectStatus(status)
	if normalized == "" {
		return fmt.Errorf("invalid project status %q", status)
	}
	res, err := d.sql.Exec(`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`, normalized, nowUTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteProject removes a project; planned jobs, targets, stock and
// misc lines cascade.
func (d *DB) DeleteProject(id string) error {
	res, err := d.sql.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetProjectStock replaces the project's manual stock lines.
func (d *DB) SetProjectStock(projectID string, stock []StockRow) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM project_stock WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	for _, s := range stock {
		if s.Quantity <= 0 {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO project_stock (project_id, type_id, quantity) VALUES (?, ?, ?)`,
			projectID, s.TypeID, s.Quantity); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE projects SET updated_at = ? WHERE id = ?`, nowUTC(), projectID); err != nil {
		return err
	}
	return tx.Commit()
}

// AddMiscLine appends a free-form cost line to a project.
func (d *DB) AddMiscLine(projectID, description string, quantity int64, costISK float64) (int64, error) {
	if quantity < 1 {
		quantity = 1
	}
	res, err := d.sql.Exec(`
		INSERT INTO project_misc (project_id, description, quantity, cost_isk)
		VALUES (?, ?, ?, ?)
	`, projectID, strings.TrimSpace(description), quantity, costISK)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SaveProjectPlan replaces a project's targets and planned jobs with a
// freshly computed plan in a single transaction. Jobs already bound to
// an observed job are kept; only unbound waiting jobs are replaced.
func (d *DB) SaveProjectPlan(projectID string, targets []TargetRow, jobs []PlannedJobInput) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM projects WHERE id = ?`, projectID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.Exec(`DELETE FROM project_targets WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	for _, t := range targets {
		if t.Quantity <= 0 {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO project_targets (project_id, type_id, quantity) VALUES (?, ?, ?)`,
			projectID, t.TypeID, t.Quantity); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		DELETE FROM planned_jobs
		 WHERE project_id = ? AND status = ? AND external_job_id IS NULL
	`, projectID, JobStatusWaiting); err != nil {
		return err
	}

	now := nowUTC()
	for _, j := range jobs {
		if j.Runs <= 0 {
			continue
		}
		activity := strings.ToLower(strings.TrimSpace(j.Activity))
		if activity == "" {
			activity = "manufacturing"
		}
		var structureID interface{}
		if j.StructureID > 0 {
			structureID = j.StructureID
		}
		if _, err := tx.Exec(`
			INSERT INTO planned_jobs (project_id, product_type_id, runs, activity, structure_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, projectID, j.ProductTypeID, j.Runs, activity, structureID, JobStatusWaiting, now, now); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`UPDATE projects SET updated_at = ? WHERE id = ?`, now, projectID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPlannedJobs returns all planned jobs of a project, oldest first.
func (d *DB) ListPlannedJobs(projectID string) ([]PlannedJob, error) {
	rows, err := d.sql.Query(`
		SELECT j.id, j.project_id, j.product_type_id, j.runs, j.activity,
		       j.structure_id, j.status, j.external_job_id, j.cost_isk,
		       j.facility_id, j.end_date, j.created_at, j.updated_at, p.created_at
		  FROM planned_jobs j
		  JOIN projects p ON p.id = j.project_id
		 WHERE j.project_id = ?
		 ORDER BY j.created_at, j.id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlannedJobs(rows)
}

// ListStartablePlannedJobs returns the matcher's candidate pool: jobs
// in waiting or building state whose project is in progress and whose
// owner or corporation is among the given installers. Ordered by
// (project.created_at, job.created_at, job.id) so candidate choice is
// deterministic.
func (d *DB) ListStartablePlannedJobs(installerIDs []int64) ([]PlannedJob, error) {
	q := sq.Select(
		"j.id", "j.project_id", "j.product_type_id", "j.runs", "j.activity",
		"j.structure_id", "j.status", "j.external_job_id", "j.cost_isk",
		"j.facility_id", "j.end_date", "j.created_at", "j.updated_at", "p.created_at").
		From("planned_jobs j").
		Join("projects p ON p.id = j.project_id").
		Where(sq.Eq{"p.status": ProjectStatusInProgress}).
		Where(sq.Eq{"j.status": []string{JobStatusWaiting, JobStatusBuilding}}).
		OrderBy("p.created_at", "j.created_at", "j.id")
	if len(installerIDs) > 0 {
		q = q.Where(sq.Or{
			sq.Eq{"p.owner_id": installerIDs},
			sq.Eq{"p.corporation_id": installerIDs},
		})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlannedJobs(rows)
}

func scanPlannedJobs(rows *sql.Rows) ([]PlannedJob, error) {
	out := make([]PlannedJob, 0, 32)
	for rows.Next() {
		var (
			j           PlannedJob
			structureID sql.NullInt64
			externalID  sql.NullInt64
			costISK     sql.NullFloat64
			facilityID  sql.NullInt64
			endDate     sql.NullString
		)
		if err := rows.Scan(
			&j.ID, &j.ProjectID, &j.ProductTypeID, &j.Runs, &j.Activity,
			&structureID, &j.Status, &externalID, &costISK,
			&facilityID, &endDate, &j.CreatedAt, &j.UpdatedAt, &j.ProjectCreatedAt,
		); err != nil {
			return nil, err
		}
		j.StructureID = structureID.Int64
		j.ExternalJobID = externalID.Int64
		j.CostISK = costISK.Float64
		j.FacilityID = facilityID.Int64
		j.EndDate = endDate.String
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkBuilding binds an observed job to a planned job and moves it to
// building state.
func (d *DB) MarkBuilding(plannedJobID, externalJobID int64, cost float64, facilityID int64, endDate string) error {
	return d.applyJobUpdate(d.sql, JobUpdate{
		PlannedJobID:  plannedJobID,
		Status:        JobStatusBuilding,
		ExternalJobID: externalJobID,
		CostISK:       cost,
		FacilityID:    facilityID,
		EndDate:       endDate,
	})
}

// MarkDone closes a planned job; done jobs are never matched again.
func (d *DB) MarkDone(plannedJobID, externalJobID int64, cost float64, facilityID int64) error {
	return d.applyJobUpdate(d.sql, JobUpdate{
		PlannedJobID:  plannedJobID,
		Status:        JobStatusDone,
		ExternalJobID: externalJobID,
		CostISK:       cost,
		FacilityID:    facilityID,
	})
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (d *DB) applyJobUpdate(ex execer, u JobUpdate) error {
	var externalID interface{}
	if u.ExternalJobID > 0 {
		externalID = u.ExternalJobID
	}
	var facilityID interface{}
	if u.FacilityID > 0 {
		facilityID = u.FacilityID
	}
	var endDate interface{}
	if u.EndDate != "" {
		endDate = u.EndDate
	}
	res, err := ex.Exec(`
		UPDATE planned_jobs
		   SET status = ?, external_job_id = ?, cost_isk = ?, facility_id = ?,
		       end_date = COALESCE(?, end_date), updated_at = ?
		 WHERE id = ?
	`, u.Status, externalID, u.CostISK, facilityID, endDate, nowUTC(), u.PlannedJobID)
	if err != nil {
		return fmt.Errorf("update planned job %d: %w", u.PlannedJobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendDetectionLog stores matcher decisions in one batch.
func (d *DB) AppendDetectionLog(entries []DetectionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := appendDetectionLogTx(tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func appendDetectionLogTx(tx *sql.Tx, entries []DetectionLogEntry) error {
	stmt, err := tx.Prepare(`
		INSERT INTO detection_log (external_job_id, project_id, planned_job_id, decision, reason, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		var projectID interface{}
		if e.ProjectID != "" {
			projectID = e.ProjectID
		}
		var plannedID interface{}
		if e.PlannedJobID > 0 {
			plannedID = e.PlannedJobID
		}
		observedAt := e.ObservedAt
		if observedAt == "" {
			observedAt = nowUTC()
		}
		if _, err := stmt.Exec(e.ExternalJobID, projectID, plannedID, e.Decision, e.Reason, observedAt); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDetectionTick commits all state transitions and log entries of
// one matcher tick atomically. A unique-index violation on
// external_job_id rolls the whole tick back; the next tick retries.
func (d *DB) ApplyDetectionTick(updates []JobUpdate, entries []DetectionLogEntry) error {
	if len(updates) == 0 && len(entries) == 0 {
		return nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range updates {
		if err := d.applyJobUpdate(tx, u); err != nil {
			return err
		}
	}
	if err := appendDetectionLogTx(tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDetectionLog returns recent matcher decisions, optionally scoped
// to one external job or one project, newest first.
func (d *DB) ListDetectionLog(externalJobID int64, projectID string, limit int) ([]DetectionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := sq.Select("external_job_id", "project_id", "planned_job_id", "decision", "reason", "observed_at").
		From("detection_log").
		OrderBy("id DESC").
		Limit(uint64(limit))
	if externalJobID > 0 {
		q = q.Where(sq.Eq{"external_job_id": externalJobID})
	}
	if projectID != "" {
		q = q.Where(sq.Eq{"project_id": projectID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DetectionLogEntry, 0, limit)
	for rows.Next() {
		var (
			e         DetectionLogEntry
			projectID sql.NullString
			plannedID sql.NullInt64
			reason    sql.NullString
		)
		if err := rows.Scan(&e.ExternalJobID, &projectID, &plannedID, &e.Decision, &reason, &e.ObservedAt); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.PlannedJobID = plannedID.Int64
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// IgnoreExternalJob excludes an observed job from matching permanently.
func (d *DB) IgnoreExternalJob(externalJobID int64) error {
	_, err := d.sql.Exec(`INSERT OR IGNORE INTO ignored_jobs (external_job_id, added_at) VALUES (?, ?)`,
		externalJobID, nowUTC())
	return err
}

// ListIgnoredExternalJobs returns the user-excluded job IDs.
func (d *DB) ListIgnoredExternalJobs() (map[int64]bool, error) {
	rows, err := d.sql.Query(`SELECT external_job_id FROM ignored_jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]bool, 32)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ListDoneExternalJobs returns the subset of candidates already
// resolved to done planned jobs, so the matcher never rebinds them.
func (d *DB) ListDoneExternalJobs(candidates []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	query, args, err := sq.Select("external_job_id").
		From("planned_jobs").
		Where(sq.Eq{"status": JobStatusDone}).
		Where(sq.Eq{"external_job_id": candidates}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
