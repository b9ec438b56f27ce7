package esi

import (
	"fmt"
	"time"

	"eve-foreman/internal/refdata"
)

// IndustryJob is one observed job from the game API. The snapshot is
// immutable; JobID is ESI's globally unique identifier.
type IndustryJob struct {
	JobID               int64     `json:"job_id"`
	InstallerID         int64     `json:"installer_id"`
	FacilityID          int64     `json:"facility_id"`
	StationID           int64     `json:"station_id"`
	BlueprintLocationID int64     `json:"blueprint_location_id"`
	BlueprintTypeID     int32     `json:"blueprint_type_id"`
	ProductTypeID       int32     `json:"product_type_id"`
	ActivityID          int32     `json:"activity_id"`
	Runs                int32     `json:"runs"`
	Cost                float64   `json:"cost"`
	Status              string    `json:"status"`
	StartDate           time.Time `json:"start_date"`
	EndDate             time.Time `json:"end_date"`
}

// ESI activity IDs. 11 is the legacy reactions ID still present on old
// job rows.
var activityByID = map[int32]refdata.Activity{
	1:  refdata.ActivityManufacturing,
	3:  refdata.ActivityTEResearch,
	4:  refdata.ActivityMEResearch,
	5:  refdata.ActivityCopying,
	8:  refdata.ActivityInvention,
	9:  refdata.ActivityReaction,
	11: refdata.ActivityReaction,
}

// Activity maps the ESI activity ID onto the reference activity enum.
func (j IndustryJob) Activity() (refdata.Activity, bool) {
	a, ok := activityByID[j.ActivityID]
	return a, ok
}

// Active reports whether the job still occupies its industry slot at
// the given time. Paused jobs (facility offline) resume later, so they
// count as active until their end date passes.
func (j IndustryJob) Active(now time.Time) bool {
	return (j.Status == "active" || j.Status == "paused") && j.EndDate.After(now)
}

// Delivered reports whether the job's output has been collected.
func (j IndustryJob) Delivered() bool {
	return j.Status == "delivered"
}

// FetchCharacterIndustryJobs returns the character's industry jobs,
// including recently completed ones.
func (c *Client) FetchCharacterIndustryJobs(characterID int64, token string) ([]IndustryJob, error) {
	url := fmt.Sprintf("%s/characters/%d/industry/jobs/?datasource=tranquility&include_completed=true", c.baseURL, characterID)
	var jobs []IndustryJob
	if err := c.GetJSON(url, token, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// FetchCorporationIndustryJobs returns the corporation's industry
// jobs, including recently completed ones. Requires the Factory_Manager
// role in game.
func (c *Client) FetchCorporationIndustryJobs(corporationID int64, token string) ([]IndustryJob, error) {
	url := fmt.Sprintf("%s/corporations/%d/industry/jobs/?datasource=tranquility&include_completed=true", c.baseURL, corporationID)
	var jobs []IndustryJob
	if err := c.GetJSON(url, token, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}
