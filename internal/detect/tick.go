package detect

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"eve-foreman/internal/auth"
	"eve-foreman/internal/db"
	"eve-foreman/internal/esi"
	"eve-foreman/internal/logger"
)

// Runner executes one detection tick per scope: fetch the observed
// snapshot, run the matcher, commit the decisions in one transaction.
type Runner struct {
	DB        *db.DB
	Client    *esi.Client
	Names     *esi.NameResolver
	Creds     *auth.Store
	Refresher auth.TokenRefresher
	Matcher   *Matcher
}

// RunScope performs one tick for a character or corporation scope.
// Any failure before the final commit leaves state untouched; the next
// tick retries, matching being idempotent.
func (r *Runner) RunScope(ctx context.Context, scope auth.Scope) error {
	token, err := r.Creds.Token(scope.Key(), r.Refresher)
	if err != nil {
		return err
	}

	var (
		observed  []esi.IndustryJob
		startable []db.PlannedJob
		ignored   map[int64]bool
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if scope.Kind == "corporation" {
			observed, err = r.Client.FetchCorporationIndustryJobs(scope.ID, token)
		} else {
			observed, err = r.Client.FetchCharacterIndustryJobs(scope.ID, token)
		}
		if err != nil {
			return fmt.Errorf("fetch industry jobs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		startable, err = r.DB.ListStartablePlannedJobs([]int64{scope.ID, scope.CharacterID})
		return err
	})
	g.Go(func() error {
		var err error
		ignored, err = r.DB.ListIgnoredExternalJobs()
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	observedIDs := make([]int64, 0, len(observed))
	locationIDs := make(map[int64]bool, len(observed))
	for _, o := range observed {
		observedIDs = append(observedIDs, o.JobID)
		if o.BlueprintLocationID > 0 {
			locationIDs[o.BlueprintLocationID] = true
		}
	}
	finished, err := r.DB.ListDoneExternalJobs(observedIDs)
	if err != nil {
		return err
	}

	var containerNames map[int64]string
	if r.Names != nil && len(locationIDs) > 0 {
		ids := make([]int64, 0, len(locationIDs))
		for id := range locationIDs {
			ids = append(ids, id)
		}
		containerNames = r.Names.ResolveAssetNames(scope.CharacterID, token, ids)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	result := r.Matcher.Match(Input{
		Observed:       observed,
		Startable:      startable,
		FinishedJobIDs: finished,
		IgnoredJobIDs:  ignored,
		ContainerNames: containerNames,
		Now:            time.Now().UTC(),
	})
	for _, s := range result.Skips {
		logger.Info("Detect", fmt.Sprintf("%s: job %d %s", scope.Key(), s.ExternalJobID, s.Decision))
	}
	if len(result.Updates) == 0 && len(result.Log) == 0 {
		logger.Info("Detect", fmt.Sprintf("%s: %d observed, nothing to do", scope.Key(), len(observed)))
		return nil
	}

	if err := r.DB.ApplyDetectionTick(result.Updates, result.Log); err != nil {
		return fmt.Errorf("commit tick for %s: %w", scope.Key(), err)
	}
	logger.Success("Detect", fmt.Sprintf("%s: %d observed, %d updates, %d log entries",
		scope.Key(), len(observed), len(result.Updates), len(result.Log)))
	return nil
}
