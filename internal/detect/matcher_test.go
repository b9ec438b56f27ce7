package detect

import (
	"reflect"
	"testing"
	"time"

	"eve-foreman/internal/db"
	"eve-foreman/internal/esi"
)

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

const (
	projectA = "0195c3a1-0000-7000-8000-00000000000a"
	projectB = "0195c3a1-0000-7000-8000-00000000000b"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher("")
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func activeJob(jobID int64, productTypeID, runs int32) esi.IndustryJob {
	return esi.IndustryJob{
		JobID:               jobID,
		FacilityID:          1021,
		BlueprintLocationID: 9001,
		ProductTypeID:       productTypeID,
		ActivityID:          1,
		Runs:                runs,
		Cost:                50000,
		Status:              "active",
		StartDate:           testNow.Add(-24 * time.Hour),
		EndDate:             testNow.Add(24 * time.Hour),
	}
}

func plannedJob(id int64, projectID string, productTypeID, runs int32, createdAt string) db.PlannedJob {
	return db.PlannedJob{
		ID:               id,
		ProjectID:        projectID,
		ProductTypeID:    productTypeID,
		Runs:             runs,
		Activity:         "manufacturing",
		Status:           db.JobStatusWaiting,
		CreatedAt:        createdAt,
		ProjectCreatedAt: createdAt,
	}
}

func TestMatch_HappyPath(t *testing.T) {
	m := newTestMatcher(t)
	in := Input{
		Observed:  []esi.IndustryJob{activeJob(555, 603, 10)},
		Startable: []db.PlannedJob{plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")},
		Now:       testNow,
	}
	res := m.Match(in)

	if len(res.Updates) != 1 {
		t.Fatalf("updates = %+v", res.Updates)
	}
	u := res.Updates[0]
	if u.PlannedJobID != 1 || u.Status != db.JobStatusBuilding || u.ExternalJobID != 555 {
		t.Errorf("update = %+v", u)
	}
	if u.CostISK != 50000 || u.FacilityID != 1021 {
		t.Errorf("cost/facility = %v/%d", u.CostISK, u.FacilityID)
	}
	if len(res.Log) != 1 || res.Log[0].Decision != db.DecisionMatched {
		t.Errorf("log = %+v", res.Log)
	}
}

func TestMatch_SecondTickIdempotent(t *testing.T) {
	m := newTestMatcher(t)
	// State after the first tick: planned job is building, bound to 555.
	bound := plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")
	bound.Status = db.JobStatusBuilding
	bound.ExternalJobID = 555
	in := Input{
		Observed:  []esi.IndustryJob{activeJob(555, 603, 10)},
		Startable: []db.PlannedJob{bound},
		Now:       testNow,
	}

	first := m.Match(in)
	second := m.Match(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("ticks differ:\nfirst  = %+v\nsecond = %+v", first, second)
	}
	// The binding short-circuits to the same planned job with the same
	// values: re-applying is a state no-op.
	if len(first.Updates) != 1 || first.Updates[0].PlannedJobID != 1 ||
		first.Updates[0].Status != db.JobStatusBuilding || first.Updates[0].ExternalJobID != 555 {
		t.Errorf("updates = %+v", first.Updates)
	}
	if len(first.Log) != 1 || first.Log[0].Decision != db.DecisionMatched {
		t.Errorf("log = %+v", first.Log)
	}
}

func TestMatch_AmbiguityOlderProjectWins(t *testing.T) {
	m := newTestMatcher(t)
	in := Input{
		Observed: []esi.IndustryJob{activeJob(555, 603, 10)},
		// Startable arrives ordered by (project.created_at, job.created_at, job.id).
		Startable: []db.PlannedJob{
			plannedJob(7, projectA, 603, 10, "2026-01-01T00:00:00Z"),
			plannedJob(3, projectB, 603, 10, "2026-02-01T00:00:00Z"),
		},
		Now: testNow,
	}
	res := m.Match(in)

	if len(res.Updates) != 1 || res.Updates[0].PlannedJobID != 7 {
		t.Fatalf("updates = %+v, want project A's job 7", res.Updates)
	}
	if res.Log[0].ProjectID != projectA {
		t.Errorf("log project = %s, want %s", res.Log[0].ProjectID, projectA)
	}
}

func TestMatch_HintFilter(t *testing.T) {
	m := newTestMatcher(t)
	in := Input{
		Observed: []esi.IndustryJob{activeJob(555, 603, 10)},
		Startable: []db.PlannedJob{
			plannedJob(7, projectA, 603, 10, "2026-01-01T00:00:00Z"),
			plannedJob(3, projectB, 603, 10, "2026-02-01T00:00:00Z"),
		},
		ContainerNames: map[int64]string{9001: "BPO Hangar [[project=" + projectB + "]]"},
		Now:            testNow,
	}
	res := m.Match(in)

	// The container tag overrides the created_at preference.
	if len(res.Updates) != 1 || res.Updates[0].PlannedJobID != 3 {
		t.Fatalf("updates = %+v, want hinted job 3", res.Updates)
	}
}

func TestMatch_HintMissFallsBack(t *testing.T) {
	m := newTestMatcher(t)
	in := Input{
		Observed: []esi.IndustryJob{activeJob(555, 603, 10)},
		Startable: []db.PlannedJob{
			plannedJob(7, projectA, 603, 10, "2026-01-01T00:00:00Z"),
		},
		// Tag points at a project with no matching slot.
		ContainerNames: map[int64]string{9001: "Hangar [[project=" + projectB + "]]"},
		Now:            testNow,
	}
	res := m.Match(in)
	if len(res.Updates) != 1 || res.Updates[0].PlannedJobID != 7 {
		t.Fatalf("updates = %+v, want fallback to full candidate set", res.Updates)
	}
}

func TestMatch_NoCandidate(t *testing.T) {
	m := newTestMatcher(t)
	in := Input{
		Observed: []esi.IndustryJob{activeJob(555, 603, 10)},
		Startable: []db.PlannedJob{
			plannedJob(1, projectA, 603, 99, "2026-01-01T00:00:00Z"), // runs differ
			plannedJob(2, projectA, 604, 10, "2026-01-01T00:00:00Z"), // type differs
		},
		Now: testNow,
	}
	res := m.Match(in)
	if len(res.Updates) != 0 {
		t.Errorf("updates = %+v", res.Updates)
	}
	if len(res.Log) != 1 || res.Log[0].Decision != db.DecisionUnmatched || res.Log[0].Reason != "no-candidate" {
		t.Errorf("log = %+v", res.Log)
	}
}

func TestMatch_SkipsFinishedIgnoredCancelled(t *testing.T) {
	m := newTestMatcher(t)
	cancelled := activeJob(557, 603, 10)
	cancelled.Status = "cancelled"
	in := Input{
		Observed: []esi.IndustryJob{
			activeJob(555, 603, 10),
			activeJob(556, 603, 10),
			cancelled,
		},
		Startable:      []db.PlannedJob{plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")},
		FinishedJobIDs: map[int64]bool{555: true},
		IgnoredJobIDs:  map[int64]bool{556: true},
		Now:            testNow,
	}
	res := m.Match(in)
	// All three observed jobs are skipped without DB log entries.
	if len(res.Updates) != 0 || len(res.Log) != 0 {
		t.Errorf("result = %+v", res)
	}
	// Finished and ignored skips surface for console logging only.
	wantSkips := []Skip{
		{ExternalJobID: 555, Decision: db.DecisionSkippedDone},
		{ExternalJobID: 556, Decision: db.DecisionSkippedIgnored},
	}
	if !reflect.DeepEqual(res.Skips, wantSkips) {
		t.Errorf("skips = %+v, want %+v", res.Skips, wantSkips)
	}
}

func TestMatch_PausedJobStaysBuilding(t *testing.T) {
	m := newTestMatcher(t)
	paused := activeJob(555, 603, 10)
	paused.Status = "paused" // facility offline; the job resumes later
	in := Input{
		Observed:  []esi.IndustryJob{paused},
		Startable: []db.PlannedJob{plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")},
		Now:       testNow,
	}
	res := m.Match(in)
	if len(res.Updates) != 1 || res.Updates[0].Status != db.JobStatusBuilding {
		t.Fatalf("updates = %+v, want slot kept building", res.Updates)
	}
	if res.Updates[0].EndDate == "" {
		t.Error("end date not recorded for paused job")
	}
}

func TestMatch_ActivityFilter(t *testing.T) {
	m := newTestMatcher(t)
	research := activeJob(555, 603, 10)
	research.ActivityID = 4 // ME research shares the blueprint location
	in := Input{
		Observed:  []esi.IndustryJob{research},
		Startable: []db.PlannedJob{plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")},
		Now:       testNow,
	}
	res := m.Match(in)
	if len(res.Updates) != 0 || len(res.Log) != 0 {
		t.Errorf("research job should be filtered out, got %+v", res)
	}

	reaction := activeJob(556, 603, 10)
	reaction.ActivityID = 9
	in.Observed = []esi.IndustryJob{reaction}
	if res := m.Match(in); len(res.Updates) != 1 {
		t.Errorf("reaction job should match, got %+v", res)
	}
}

func TestMatch_Conflict(t *testing.T) {
	m := newTestMatcher(t)
	bound := plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")
	bound.Status = db.JobStatusBuilding
	bound.ExternalJobID = 111
	in := Input{
		// 111 is absent from the snapshot but not yet past end date;
		// 555 matches the same (type, runs) slot.
		Observed:  []esi.IndustryJob{activeJob(555, 603, 10)},
		Startable: []db.PlannedJob{bound},
		Now:       testNow,
	}
	res := m.Match(in)

	if len(res.Updates) != 0 {
		t.Errorf("conflict must not change state, updates = %+v", res.Updates)
	}
	if len(res.Log) != 1 || res.Log[0].Decision != db.DecisionConflict {
		t.Fatalf("log = %+v", res.Log)
	}
	if res.Log[0].ExternalJobID != 555 || res.Log[0].PlannedJobID != 1 {
		t.Errorf("conflict entry = %+v", res.Log[0])
	}
}

func TestMatch_DeliveredMovesToDone(t *testing.T) {
	m := newTestMatcher(t)
	delivered := activeJob(555, 603, 10)
	delivered.Status = "delivered"
	delivered.EndDate = testNow.Add(-time.Hour)
	in := Input{
		Observed:  []esi.IndustryJob{delivered},
		Startable: []db.PlannedJob{plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")},
		Now:       testNow,
	}
	res := m.Match(in)
	if len(res.Updates) != 1 || res.Updates[0].Status != db.JobStatusDone {
		t.Fatalf("updates = %+v, want done", res.Updates)
	}
}

func TestMatch_FinalizeClosesStaleBuilding(t *testing.T) {
	m := newTestMatcher(t)
	stale := plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z")
	stale.Status = db.JobStatusBuilding
	stale.ExternalJobID = 111
	stale.CostISK = 42000
	stale.FacilityID = 1021
	stale.EndDate = testNow.Add(-time.Hour).Format(time.RFC3339)

	running := plannedJob(2, projectA, 604, 5, "2026-01-01T00:00:00Z")
	running.Status = db.JobStatusBuilding
	running.ExternalJobID = 112
	running.EndDate = testNow.Add(time.Hour).Format(time.RFC3339)

	in := Input{
		Observed:  nil, // the API stopped reporting both jobs
		Startable: []db.PlannedJob{stale, running},
		Now:       testNow,
	}
	res := m.Match(in)

	if len(res.Updates) != 1 {
		t.Fatalf("updates = %+v, want only the elapsed job closed", res.Updates)
	}
	u := res.Updates[0]
	if u.PlannedJobID != 1 || u.Status != db.JobStatusDone || u.ExternalJobID != 111 {
		t.Errorf("update = %+v", u)
	}
	if u.CostISK != 42000 || u.FacilityID != 1021 {
		t.Errorf("recorded values lost: %+v", u)
	}
}

func TestMatch_InjectiveWithinTick(t *testing.T) {
	m := newTestMatcher(t)
	in := Input{
		Observed: []esi.IndustryJob{
			activeJob(555, 603, 10),
			activeJob(556, 603, 10),
			activeJob(557, 603, 10),
		},
		Startable: []db.PlannedJob{
			plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z"),
			plannedJob(2, projectA, 603, 10, "2026-01-01T00:00:01Z"),
		},
		Now: testNow,
	}
	res := m.Match(in)

	if len(res.Updates) != 2 {
		t.Fatalf("updates = %+v, want 2 bindings", res.Updates)
	}
	seenPlanned := map[int64]bool{}
	seenExternal := map[int64]bool{}
	for _, u := range res.Updates {
		if seenPlanned[u.PlannedJobID] || seenExternal[u.ExternalJobID] {
			t.Fatalf("non-injective updates: %+v", res.Updates)
		}
		seenPlanned[u.PlannedJobID] = true
		seenExternal[u.ExternalJobID] = true
	}
	// The third observed job has no slot left.
	var unmatched int
	for _, e := range res.Log {
		if e.Decision == db.DecisionUnmatched {
			unmatched++
		}
	}
	if unmatched != 1 {
		t.Errorf("unmatched log entries = %d, want 1", unmatched)
	}
}

func TestMatch_DeterministicAcrossInputOrder(t *testing.T) {
	m := newTestMatcher(t)
	jobs := []esi.IndustryJob{
		activeJob(556, 603, 10),
		activeJob(555, 603, 10),
	}
	startable := []db.PlannedJob{
		plannedJob(1, projectA, 603, 10, "2026-01-01T00:00:00Z"),
		plannedJob(2, projectA, 603, 10, "2026-01-01T00:00:01Z"),
	}

	forward := m.Match(Input{Observed: jobs, Startable: startable, Now: testNow})
	reversed := m.Match(Input{Observed: []esi.IndustryJob{jobs[1], jobs[0]}, Startable: startable, Now: testNow})
	if !reflect.DeepEqual(forward, reversed) {
		t.Errorf("result depends on observed order:\n%+v\n%+v", forward, reversed)
	}
	// Lowest job ID pairs with the oldest slot.
	if forward.Updates[0].ExternalJobID != 555 || forward.Updates[0].PlannedJobID != 1 {
		t.Errorf("updates = %+v", forward.Updates)
	}
}

func TestNewMatcher_BadPattern(t *testing.T) {
	if _, err := NewMatcher("[invalid"); err == nil {
		t.Error("expected compile error")
	}
}
