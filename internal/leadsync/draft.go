package leadsync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Draft is a mapped lead ready to be upserted. Only business fields are
// present; local-only fields (claim, notes) are never written by a sync.
type Draft struct {
	ExternalID       string
	ClientID         uuid.UUID
	FirstName        string
	LastName         string
	Email            *string
	Phone            *string
	Status           string
	FormID           *string
	CampaignID       *uuid.UUID
	SMSSentCount     int
	SMSReplyCount    int
	LastSMSSentAt    *time.Time
	OptedOut         bool
	RemoteCreatedAt  *time.Time
	RemoteModifiedAt *time.Time

	// Enriched is true when the form identifier matched a campaign.
	Enriched bool
	// UnknownFields lists remote keys that no rule or alias covers.
	UnknownFields []string
}

// CampaignLookup maps a remote form identifier to a local campaign.
// It is built once per run and discarded afterwards.
type CampaignLookup map[string]uuid.UUID

// Add registers a form id. Keys are trimmed the same way the mapper trims
// incoming form ids, and blank ids are ignored.
func (l CampaignLookup) Add(formID string, campaignID uuid.UUID) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return
	}
	l[formID] = campaignID
}

// MappingError means a required field held a value of the wrong type.
type MappingError struct {
	ExternalID string
	Field      string
	Value      any
	Err        error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("record %s: field %q: %v", e.ExternalID, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// IsMappingError reports whether err came from the field mapper.
func IsMappingError(err error) bool {
	var mapErr *MappingError
	return errors.As(err, &mapErr)
}

// Result is the outcome of mapping or persisting one record: either a draft
// or a per-record error. Per-record errors never abort a run.
type Result struct {
	draft Draft
	err   error
}

// Ok wraps a successfully mapped draft.
func Ok(draft Draft) Result {
	return Result{draft: draft}
}

// Fail wraps a per-record failure.
func Fail(err error) Result {
	return Result{err: err}
}

// Draft returns the mapped draft and true, or false if the record failed.
func (r Result) Draft() (Draft, bool) {
	return r.draft, r.err == nil
}

// Err returns the per-record failure, if any.
func (r Result) Err() error {
	return r.err
}
