package leadsync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrClientNotFound is returned when a run targets an unknown tenant.
var ErrClientNotFound = errors.New("client not found")

// ErrForeignLead is returned when an external id is already stored for
// another tenant. The existing row is left untouched.
var ErrForeignLead = errors.New("external id belongs to another client")

// Mode selects between a full refresh and an incremental pass.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode parses a mode, defaulting to full.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeIncremental:
		return ModeIncremental, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

// Status is the state of a run.
type Status string

const (
	StatusNotStarted          Status = "not_started"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// Client is the tenant a run reconciles.
type Client struct {
	ID           uuid.UUID
	Name         string
	BaseID       string
	TableName    string
	LastSyncedAt *time.Time
}

// UpsertOutcome says what an upsert did to one row.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeCreated
	OutcomeUpdated
)

// UpsertCounts aggregates outcomes of a batch.
type UpsertCounts struct {
	Created   int
	Updated   int
	Unchanged int
}

// Add records one outcome.
func (c *UpsertCounts) Add(o UpsertOutcome) {
	switch o {
	case OutcomeCreated:
		c.Created++
	case OutcomeUpdated:
		c.Updated++
	default:
		c.Unchanged++
	}
}

// RunRequest starts one reconciliation for one tenant.
type RunRequest struct {
	ClientID uuid.UUID
	Mode     Mode
}

// Summary is the result of a run. It is logged and returned, never persisted.
type Summary struct {
	ClientID        uuid.UUID `json:"clientId"`
	Mode            Mode      `json:"mode"`
	Status          Status    `json:"status"`
	TotalFetched    int       `json:"totalFetched"`
	TotalCreated    int       `json:"totalCreated"`
	TotalUpdated    int       `json:"totalUpdated"`
	TotalEnriched   int       `json:"totalEnriched"`
	Unchanged       int       `json:"unchanged"`
	Errors          int       `json:"errors"`
	ErrorSamples    []string  `json:"errorSamples,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	FatalError      string    `json:"fatalError,omitempty"`
}

// ProgressEvent is emitted after every flush and once at the end of a run.
type ProgressEvent struct {
	Status        Status `json:"status"`
	Batches       int    `json:"batches"`
	TotalFetched  int    `json:"totalFetched"`
	TotalCreated  int    `json:"totalCreated"`
	TotalUpdated  int    `json:"totalUpdated"`
	TotalEnriched int    `json:"totalEnriched"`
	Errors        int    `json:"errors"`
}

// ProgressFunc receives progress events. It is called synchronously from the
// run and must not block for long.
type ProgressFunc func(ProgressEvent)
