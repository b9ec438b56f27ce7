package detect

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"eve-foreman/internal/db"
	"eve-foreman/internal/esi"
	"eve-foreman/internal/refdata"
)

// DefaultTagPattern recognises project tags in container names, e.g.
// "BPO Hangar [[project=<uuid>]]".
const DefaultTagPattern = `\[\[project=([0-9a-f-]{36})\]\]`

// Input is one tick's snapshot for a single detection scope.
type Input struct {
	Observed       []esi.IndustryJob
	Startable      []db.PlannedJob // ordered by (project.created_at, job.created_at, job.id)
	FinishedJobIDs map[int64]bool
	IgnoredJobIDs  map[int64]bool
	ContainerNames map[int64]string // blueprint_location_id -> name; absence permitted
	Now            time.Time
}

// Result is the full set of state transitions and log entries one tick
// decided. Nothing is applied here; the store commits it atomically.
// Skips are reported for console logging only and never reach the DB
// log.
type Result struct {
	Updates []db.JobUpdate
	Log     []db.DetectionLogEntry
	Skips   []Skip
}

// Skip is one observed job a tick deliberately passed over.
type Skip struct {
	ExternalJobID int64
	Decision      string
}

// Matcher reconciles observed industry jobs against planned jobs. It
// holds only immutable configuration; Match is a pure function of its
// input, so re-running a tick over the same snapshot yields the same
// result.
type Matcher struct {
	tagRegex   *regexp.Regexp
	activities map[refdata.Activity]bool
}

// NewMatcher compiles the project-tag pattern and fixes the activity
// filter. With no activities given, manufacturing and reaction jobs
// are matched.
func NewMatcher(tagPattern string, activities ...refdata.Activity) (*Matcher, error) {
	if tagPattern == "" {
		tagPattern = DefaultTagPattern
	}
	re, err := regexp.Compile(tagPattern)
	if err != nil {
		return nil, fmt.Errorf("compile project tag pattern: %w", err)
	}
	if len(activities) == 0 {
		activities = []refdata.Activity{refdata.ActivityManufacturing, refdata.ActivityReaction}
	}
	set := make(map[refdata.Activity]bool, len(activities))
	for _, a := range activities {
		set[a] = true
	}
	return &Matcher{tagRegex: re, activities: set}, nil
}

// projectTag extracts the project UUID from a container name, if any.
// A tag that is not a valid UUID is treated as absent.
func (m *Matcher) projectTag(name string) string {
	if name == "" {
		return ""
	}
	groups := m.tagRegex.FindStringSubmatch(name)
	if len(groups) < 2 {
		return ""
	}
	if _, err := uuid.Parse(groups[1]); err != nil {
		return ""
	}
	return groups[1]
}

// Match runs the full matching pass for one scope.
func (m *Matcher) Match(in Input) Result {
	observed := make([]esi.IndustryJob, 0, len(in.Observed))
	for _, o := range in.Observed {
		if a, ok := o.Activity(); ok && m.activities[a] {
			observed = append(observed, o)
		}
	}
	// Stable processing order regardless of API ordering.
	sort.Slice(observed, func(i, j int) bool { return observed[i].JobID < observed[j].JobID })

	var res Result
	usedPlanned := make(map[int64]bool, len(observed))
	observedAt := in.Now.UTC().Format(time.RFC3339)

	for _, o := range observed {
		if in.FinishedJobIDs[o.JobID] {
			res.Skips = append(res.Skips, Skip{ExternalJobID: o.JobID, Decision: db.DecisionSkippedDone})
			continue
		}
		if in.IgnoredJobIDs[o.JobID] {
			res.Skips = append(res.Skips, Skip{ExternalJobID: o.JobID, Decision: db.DecisionSkippedIgnored})
			continue
		}
		if o.Status == "cancelled" {
			// A cancelled job must not close its planned slot; the slot
			// stays open for the re-installed run.
			continue
		}

		planned, conflict := m.selectCandidate(in, o, usedPlanned)
		if conflict != nil {
			res.Log = append(res.Log, db.DetectionLogEntry{
				ExternalJobID: o.JobID,
				ProjectID:     conflict.ProjectID,
				PlannedJobID:  conflict.ID,
				Decision:      db.DecisionConflict,
				Reason:        fmt.Sprintf("planned job already bound to external job %d", conflict.ExternalJobID),
				ObservedAt:    observedAt,
			})
			continue
		}
		if planned == nil {
			res.Log = append(res.Log, db.DetectionLogEntry{
				ExternalJobID: o.JobID,
				Decision:      db.DecisionUnmatched,
				Reason:        "no-candidate",
				ObservedAt:    observedAt,
			})
			continue
		}

		usedPlanned[planned.ID] = true

		status := db.JobStatusDone
		endDate := ""
		if o.Active(in.Now) {
			status = db.JobStatusBuilding
			endDate = o.EndDate.UTC().Format(time.RFC3339)
		}
		res.Updates = append(res.Updates, db.JobUpdate{
			PlannedJobID:  planned.ID,
			Status:        status,
			ExternalJobID: o.JobID,
			CostISK:       o.Cost,
			FacilityID:    o.FacilityID,
			EndDate:       endDate,
		})
		res.Log = append(res.Log, db.DetectionLogEntry{
			ExternalJobID: o.JobID,
			ProjectID:     planned.ProjectID,
			PlannedJobID:  planned.ID,
			Decision:      db.DecisionMatched,
			ObservedAt:    observedAt,
		})
	}

	m.finalize(&res, in, usedPlanned)
	return res
}

// selectCandidate picks the planned job for one observed job, or
// reports the conflicting binding. Candidate order follows Startable,
// so the oldest project's oldest job wins.
func (m *Matcher) selectCandidate(in Input, o esi.IndustryJob, usedPlanned map[int64]bool) (match, conflict *db.PlannedJob) {
	// A planned job already bound to this observed job short-circuits
	// everything else: re-observing it re-emits the same binding.
	for i := range in.Startable {
		p := &in.Startable[i]
		if p.ExternalJobID == o.JobID && !usedPlanned[p.ID] {
			return p, nil
		}
	}

	var candidates []*db.PlannedJob
	for i := range in.Startable {
		p := &in.Startable[i]
		if p.ProductTypeID != o.ProductTypeID || p.Runs != o.Runs {
			continue
		}
		if p.Status != db.JobStatusWaiting && p.Status != db.JobStatusBuilding {
			continue
		}
		if usedPlanned[p.ID] {
			continue
		}
		candidates = append(candidates, p)
	}

	// Hint filter: a project tag in the blueprint's container name
	// narrows the candidates; an empty narrowing falls back.
	if tag := m.projectTag(in.ContainerNames[o.BlueprintLocationID]); tag != "" {
		var hinted []*db.PlannedJob
		for _, p := range candidates {
			if p.ProjectID == tag {
				hinted = append(hinted, p)
			}
		}
		if len(hinted) > 0 {
			candidates = hinted
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	chosen := candidates[0]
	if chosen.Status == db.JobStatusBuilding && chosen.ExternalJobID != 0 && chosen.ExternalJobID != o.JobID {
		return nil, chosen
	}
	return chosen, nil
}

// finalize closes out building jobs the API has stopped reporting:
// their bound observed job is absent from the snapshot and its end
// date has elapsed.
func (m *Matcher) finalize(res *Result, in Input, usedPlanned map[int64]bool) {
	observedIDs := make(map[int64]bool, len(in.Observed))
	for _, o := range in.Observed {
		observedIDs[o.JobID] = true
	}

	for i := range in.Startable {
		p := &in.Startable[i]
		if p.Status != db.JobStatusBuilding || p.ExternalJobID == 0 {
			continue
		}
		if usedPlanned[p.ID] || observedIDs[p.ExternalJobID] {
			continue
		}
		end, err := time.Parse(time.RFC3339, p.EndDate)
		if err != nil || end.After(in.Now) {
			continue
		}
		res.Updates = append(res.Updates, db.JobUpdate{
			PlannedJobID:  p.ID,
			Status:        db.JobStatusDone,
			ExternalJobID: p.ExternalJobID,
			CostISK:       p.CostISK,
			FacilityID:    p.FacilityID,
		})
		res.Log = append(res.Log, db.DetectionLogEntry{
			ExternalJobID: p.ExternalJobID,
			ProjectID:     p.ProjectID,
			PlannedJobID:  p.ID,
			Decision:      db.DecisionMatched,
			Reason:        "finalized after end date",
			ObservedAt:    in.Now.UTC().Format(time.RFC3339),
		})
	}
}
