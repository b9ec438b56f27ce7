package db

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// openTestDB opens an in-memory SQLite DB and runs migrations (for testing only).
func openTestDB(t *testing.T) *DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func TestDB_ProjectRoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	p, err := d.CreateProject("Capital Build", 90000001, 98000001)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.ID == "" || p.Status != ProjectStatusPreparing {
		t.Fatalf("created project = %+v", p)
	}

	got, err := d.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got == nil || got.Name != "Capital Build" || got.OwnerID != 90000001 {
		t.Errorf("GetProject = %+v", got)
	}

	if err := d.UpdateProjectStatus(p.ID, "in_progress"); err != nil {
		t.Fatalf("UpdateProjectStatus: %v", err)
	}
	inProgress, err := d.ListProjectsInProgress()
	if err != nil {
		t.Fatalf("ListProjectsInProgress: %v", err)
	}
	if len(inProgress) != 1 || inProgress[0].ID != p.ID {
		t.Errorf("ListProjectsInProgress = %+v", inProgress)
	}

	if err := d.UpdateProjectStatus(p.ID, "nonsense"); err == nil {
		t.Error("UpdateProjectStatus should reject unknown status")
	}
	if err := d.UpdateProjectStatus("no-such-id", "done"); err != sql.ErrNoRows {
		t.Errorf("UpdateProjectStatus unknown id err = %v, want ErrNoRows", err)
	}

	missing, err := d.GetProject("no-such-id")
	if err != nil || missing != nil {
		t.Errorf("GetProject(missing) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestDB_SaveProjectPlanAndListJobs(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	p, err := d.CreateProject("Fuel", 1, 0)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	targets := []TargetRow{{TypeID: 4051, Quantity: 4000}}
	jobs := []PlannedJobInput{
		{ProductTypeID: 4051, Runs: 60, Activity: "manufacturing", StructureID: 1021},
		{ProductTypeID: 4051, Runs: 40},
	}
	if err := d.SaveProjectPlan(p.ID, targets, jobs); err != nil {
		t.Fatalf("SaveProjectPlan: %v", err)
	}

	got, err := d.ListPlannedJobs(p.ID)
	if err != nil {
		t.Fatalf("ListPlannedJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Runs != 60 || got[0].StructureID != 1021 || got[0].Status != JobStatusWaiting {
		t.Errorf("job[0] = %+v", got[0])
	}
	if got[1].Activity != "manufacturing" {
		t.Errorf("empty activity should default, got %q", got[1].Activity)
	}

	// Re-saving replaces unbound waiting jobs instead of stacking them.
	if err := d.SaveProjectPlan(p.ID, targets, jobs[:1]); err != nil {
		t.Fatalf("SaveProjectPlan again: %v", err)
	}
	got, err = d.ListPlannedJobs(p.ID)
	if err != nil {
		t.Fatalf("ListPlannedJobs: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("after re-save len = %d, want 1", len(got))
	}

	if err := d.SaveProjectPlan("no-such-id", targets, jobs); err != sql.ErrNoRows {
		t.Errorf("SaveProjectPlan unknown project err = %v, want ErrNoRows", err)
	}

	proj, err := d.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if len(proj.Targets) != 1 || proj.Targets[0].Quantity != 4000 {
		t.Errorf("targets = %+v", proj.Targets)
	}
}

func TestDB_StartablePlannedJobs(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	older, _ := d.CreateProject("Older", 100, 0)
	newer, _ := d.CreateProject("Newer", 100, 0)
	paused, _ := d.CreateProject("Paused", 100, 0)
	other, _ := d.CreateProject("Other installer", 999, 0)

	// created_at has second resolution; force distinct ordering keys.
	for i, id := range []string{older.ID, newer.ID, paused.ID, other.ID} {
		if _, err := d.sql.Exec(`UPDATE projects SET created_at = ? WHERE id = ?`,
			[]string{"2026-01-01T00:00:00Z", "2026-02-01T00:00:00Z", "2026-03-01T00:00:00Z", "2026-04-01T00:00:00Z"}[i], id); err != nil {
			t.Fatalf("set created_at: %v", err)
		}
	}

	jobs := []PlannedJobInput{{ProductTypeID: 603, Runs: 10}}
	for _, id := range []string{older.ID, newer.ID, paused.ID, other.ID} {
		if err := d.SaveProjectPlan(id, nil, jobs); err != nil {
			t.Fatalf("SaveProjectPlan: %v", err)
		}
	}
	d.UpdateProjectStatus(older.ID, ProjectStatusInProgress)
	d.UpdateProjectStatus(newer.ID, ProjectStatusInProgress)
	d.UpdateProjectStatus(other.ID, ProjectStatusInProgress)
	// paused project stays out of the candidate pool
	d.UpdateProjectStatus(paused.ID, ProjectStatusPaused)

	got, err := d.ListStartablePlannedJobs([]int64{100})
	if err != nil {
		t.Fatalf("ListStartablePlannedJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (%+v)", len(got), got)
	}
	// Older project's job sorts first.
	if got[0].ProjectID != older.ID || got[1].ProjectID != newer.ID {
		t.Errorf("order = %s, %s; want older, newer", got[0].ProjectID, got[1].ProjectID)
	}
	if got[0].ProjectCreatedAt != "2026-01-01T00:00:00Z" {
		t.Errorf("ProjectCreatedAt = %q", got[0].ProjectCreatedAt)
	}
}

func TestDB_MarkBuildingAndDone(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	p, _ := d.CreateProject("Build", 1, 0)
	d.UpdateProjectStatus(p.ID, ProjectStatusInProgress)
	if err := d.SaveProjectPlan(p.ID, nil, []PlannedJobInput{{ProductTypeID: 603, Runs: 10}}); err != nil {
		t.Fatalf("SaveProjectPlan: %v", err)
	}
	jobs, _ := d.ListPlannedJobs(p.ID)
	jobID := jobs[0].ID

	if err := d.MarkBuilding(jobID, 555001, 12345.5, 1021, "2026-09-01T12:00:00Z"); err != nil {
		t.Fatalf("MarkBuilding: %v", err)
	}
	jobs, _ = d.ListPlannedJobs(p.ID)
	j := jobs[0]
	if j.Status != JobStatusBuilding || j.ExternalJobID != 555001 || j.CostISK != 12345.5 || j.FacilityID != 1021 {
		t.Errorf("after MarkBuilding job = %+v", j)
	}
	if j.EndDate != "2026-09-01T12:00:00Z" {
		t.Errorf("end date = %q", j.EndDate)
	}

	if err := d.MarkDone(jobID, 555001, 12345.5, 1021); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	jobs, _ = d.ListPlannedJobs(p.ID)
	if jobs[0].Status != JobStatusDone {
		t.Errorf("status = %q, want done", jobs[0].Status)
	}
	// Done jobs drop out of the startable pool.
	startable, _ := d.ListStartablePlannedJobs([]int64{1})
	if len(startable) != 0 {
		t.Errorf("startable after done = %+v", startable)
	}

	done, err := d.ListDoneExternalJobs([]int64{555001, 999999})
	if err != nil {
		t.Fatalf("ListDoneExternalJobs: %v", err)
	}
	if !done[555001] || done[999999] {
		t.Errorf("done set = %v", done)
	}

	if err := d.MarkDone(987654, 1, 0, 0); err != sql.ErrNoRows {
		t.Errorf("MarkDone unknown job err = %v, want ErrNoRows", err)
	}
}

func TestDB_ExternalJobIDUnique(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	p, _ := d.CreateProject("Build", 1, 0)
	if err := d.SaveProjectPlan(p.ID, nil, []PlannedJobInput{
		{ProductTypeID: 603, Runs: 10},
		{ProductTypeID: 603, Runs: 10},
	}); err != nil {
		t.Fatalf("SaveProjectPlan: %v", err)
	}
	jobs, _ := d.ListPlannedJobs(p.ID)

	if err := d.MarkBuilding(jobs[0].ID, 777, 0, 0, ""); err != nil {
		t.Fatalf("first binding: %v", err)
	}
	if err := d.MarkBuilding(jobs[1].ID, 777, 0, 0, ""); err == nil {
		t.Fatal("second binding of external job 777 should violate the unique index")
	}
	// Re-binding the same planned job is idempotent, not a violation.
	if err := d.MarkBuilding(jobs[0].ID, 777, 0, 0, ""); err != nil {
		t.Errorf("idempotent rebinding: %v", err)
	}
}

func TestDB_ApplyDetectionTickAtomic(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	p, _ := d.CreateProject("Build", 1, 0)
	if err := d.SaveProjectPlan(p.ID, nil, []PlannedJobInput{
		{ProductTypeID: 603, Runs: 10},
		{ProductTypeID: 603, Runs: 10},
	}); err != nil {
		t.Fatalf("SaveProjectPlan: %v", err)
	}
	jobs, _ := d.ListPlannedJobs(p.ID)

	updates := []JobUpdate{
		{PlannedJobID: jobs[0].ID, Status: JobStatusBuilding, ExternalJobID: 888},
		{PlannedJobID: jobs[1].ID, Status: JobStatusBuilding, ExternalJobID: 888}, // violates unique index
	}
	entries := []DetectionLogEntry{
		{ExternalJobID: 888, ProjectID: p.ID, PlannedJobID: jobs[0].ID, Decision: DecisionMatched},
	}
	if err := d.ApplyDetectionTick(updates, entries); err == nil {
		t.Fatal("tick with duplicate external_job_id should fail")
	}

	// The whole tick rolled back: no state change, no log rows.
	after, _ := d.ListPlannedJobs(p.ID)
	if after[0].Status != JobStatusWaiting || after[0].ExternalJobID != 0 {
		t.Errorf("job[0] after rollback = %+v", after[0])
	}
	log, err := d.ListDetectionLog(888, "", 10)
	if err != nil {
		t.Fatalf("ListDetectionLog: %v", err)
	}
	if len(log) != 0 {
		t.Errorf("log after rollback = %+v", log)
	}

	// A clean tick commits both updates and log entries.
	if err := d.ApplyDetectionTick(updates[:1], entries); err != nil {
		t.Fatalf("clean tick: %v", err)
	}
	after, _ = d.ListPlannedJobs(p.ID)
	if after[0].Status != JobStatusBuilding || after[0].ExternalJobID != 888 {
		t.Errorf("job[0] after commit = %+v", after[0])
	}
	log, _ = d.ListDetectionLog(888, "", 10)
	if len(log) != 1 || log[0].Decision != DecisionMatched {
		t.Errorf("log after commit = %+v", log)
	}
}

func TestDB_IgnoredJobs(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if err := d.IgnoreExternalJob(4242); err != nil {
		t.Fatalf("IgnoreExternalJob: %v", err)
	}
	// Ignoring twice is a no-op.
	if err := d.IgnoreExternalJob(4242); err != nil {
		t.Fatalf("IgnoreExternalJob twice: %v", err)
	}
	ignored, err := d.ListIgnoredExternalJobs()
	if err != nil {
		t.Fatalf("ListIgnoredExternalJobs: %v", err)
	}
	if len(ignored) != 1 || !ignored[4242] {
		t.Errorf("ignored = %v", ignored)
	}
}

func TestDB_StockAndMisc(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	p, _ := d.CreateProject("Build", 1, 0)
	if err := d.SetProjectStock(p.ID, []StockRow{
		{TypeID: 34, Quantity: 100000},
		{TypeID: 35, Quantity: 0}, // dropped
	}); err != nil {
		t.Fatalf("SetProjectStock: %v", err)
	}
	if _, err := d.AddMiscLine(p.ID, "Freight to Jita", 1, 2500000); err != nil {
		t.Fatalf("AddMiscLine: %v", err)
	}

	got, err := d.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if len(got.Stock) != 1 || got.Stock[0].TypeID != 34 {
		t.Errorf("stock = %+v", got.Stock)
	}
	if len(got.Misc) != 1 || got.Misc[0].Description != "Freight to Jita" {
		t.Errorf("misc = %+v", got.Misc)
	}

	// Deleting the project cascades to every child table.
	if err := d.DeleteProject(p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	var n int
	if err := d.sql.QueryRow(`SELECT COUNT(1) FROM project_stock`).Scan(&n); err != nil {
		t.Fatalf("count stock: %v", err)
	}
	if n != 0 {
		t.Errorf("stock rows after cascade = %d", n)
	}
}
