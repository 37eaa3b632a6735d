// Package service implements manual lead edits. Local-only fields are written
// straight to Postgres; business fields go to Airtable first.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"client_portal_backend/internal/airtable"
	"client_portal_backend/internal/events"
	"client_portal_backend/internal/leads/repository"
	"client_portal_backend/internal/leads/transport"
	"client_portal_backend/internal/leadsync"
	"client_portal_backend/internal/lock"
	"client_portal_backend/platform/apperr"
	"client_portal_backend/platform/logger"
	"client_portal_backend/platform/sanitize"
)

// LockNamespace scopes per-lead edit locks.
const LockNamespace = "lead"

// Repository is the lead storage the service needs.
type Repository interface {
	GetByID(ctx context.Context, id, clientID uuid.UUID) (repository.Lead, error)
	GetByExternalID(ctx context.Context, externalID string, clientID uuid.UUID) (repository.Lead, error)
	GetContainer(ctx context.Context, clientID uuid.UUID) (repository.Container, error)
	UpdateLocal(ctx context.Context, id, clientID uuid.UUID, u repository.LocalUpdate) (repository.Lead, error)
	UpdateStatus(ctx context.Context, id, clientID uuid.UUID, status string, remoteModifiedAt *time.Time) (repository.Lead, error)
}

// RemoteWriter applies changes to the system of record.
type RemoteWriter interface {
	UpdateRecord(ctx context.Context, container airtable.Container, externalID string, fields map[string]any) (airtable.Record, error)
	CreateRecord(ctx context.Context, container airtable.Container, fields map[string]any) (airtable.Record, error)
}

// SyncStore is the subset of the sync repository used to persist new leads.
type SyncStore interface {
	LoadCampaignLookup(ctx context.Context, clientID uuid.UUID) (leadsync.CampaignLookup, error)
	UpsertOne(ctx context.Context, draft leadsync.Draft) (leadsync.UpsertOutcome, error)
}

type Service struct {
	repo         Repository
	remote       RemoteWriter
	sync         SyncStore
	mapper       *leadsync.Mapper
	guard        *lock.Guard
	bus          events.Bus
	defaultTable string
	log          *logger.Logger
}

func New(repo Repository, remote RemoteWriter, sync SyncStore, mapper *leadsync.Mapper, guard *lock.Guard, bus events.Bus, defaultTable string, log *logger.Logger) *Service {
	return &Service{
		repo:         repo,
		remote:       remote,
		sync:         sync,
		mapper:       mapper,
		guard:        guard,
		bus:          bus,
		defaultTable: defaultTable,
		log:          log,
	}
}

func (s *Service) Get(ctx context.Context, clientID, id uuid.UUID) (transport.LeadResponse, error) {
	lead, err := s.repo.GetByID(ctx, id, clientID)
	if err != nil {
		return transport.LeadResponse{}, mapRepoError(err)
	}
	return toResponse(lead), nil
}

// Update applies a manual edit while holding the lead's lock. A concurrent
// edit of the same lead is rejected as a conflict.
func (s *Service) Update(ctx context.Context, clientID, actorID, id uuid.UUID, req transport.UpdateLeadRequest) (transport.LeadResponse, error) {
	update, err := parseLocalUpdate(req)
	if err != nil {
		return transport.LeadResponse{}, err
	}

	var changed []string
	lead, err := lock.WithLock(ctx, s.guard, id.String(), false, func(ctx context.Context) (repository.Lead, error) {
		current, err := s.repo.GetByID(ctx, id, clientID)
		if err != nil {
			return repository.Lead{}, mapRepoError(err)
		}

		if req.Status != nil {
			status := strings.TrimSpace(*req.Status)
			if status != "" && strings.ToLower(status) != current.Status {
				container, err := s.container(ctx, clientID)
				if err != nil {
					return repository.Lead{}, err
				}
				rec, err := s.remote.UpdateRecord(ctx, container, current.ExternalID, map[string]any{leadsync.FieldStatus: status})
				if err != nil {
					return repository.Lead{}, mapRemoteError(err)
				}
				current, err = s.repo.UpdateStatus(ctx, id, clientID, strings.ToLower(status), rec.LastModifiedAt)
				if err != nil {
					return repository.Lead{}, mapRepoError(err)
				}
				changed = append(changed, "status")
			}
		}

		if update.SetClaim || update.SetNotes {
			current, err = s.repo.UpdateLocal(ctx, id, clientID, update)
			if err != nil {
				return repository.Lead{}, mapRepoError(err)
			}
			if update.SetClaim {
				changed = append(changed, "claimedBy")
			}
			if update.SetNotes {
				changed = append(changed, "notes")
			}
		}
		return current, nil
	})
	if errors.Is(err, lock.ErrLockUnavailable) {
		return transport.LeadResponse{}, apperr.Conflict("lead is being edited by someone else")
	}
	if err != nil {
		return transport.LeadResponse{}, err
	}

	if len(changed) > 0 {
		s.publish(ctx, lead, actorID, changed)
	}
	return toResponse(lead), nil
}

// Create inserts the lead in Airtable, then stores it locally through the
// same mapping and upsert path the sync uses.
func (s *Service) Create(ctx context.Context, clientID, actorID uuid.UUID, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	container, err := s.container(ctx, clientID)
	if err != nil {
		return transport.LeadResponse{}, err
	}

	fields := map[string]any{leadsync.FieldFirstName: sanitize.Name(req.FirstName)}
	setIfPresent(fields, leadsync.FieldLastName, sanitize.Name(req.LastName))
	setIfPresent(fields, leadsync.FieldEmail, strings.TrimSpace(req.Email))
	setIfPresent(fields, leadsync.FieldPhone, strings.TrimSpace(req.Phone))
	setIfPresent(fields, leadsync.FieldStatus, strings.TrimSpace(req.Status))
	setIfPresent(fields, leadsync.FieldFormID, strings.TrimSpace(req.FormID))

	rec, err := s.remote.CreateRecord(ctx, container, fields)
	if err != nil {
		return transport.LeadResponse{}, mapRemoteError(err)
	}

	lookup, err := s.sync.LoadCampaignLookup(ctx, clientID)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	res := s.mapper.Map(rec, clientID, lookup)
	draft, ok := res.Draft()
	if !ok {
		s.log.Error("created airtable record could not be mapped", "external_id", rec.ID, "error", res.Err())
		return transport.LeadResponse{}, apperr.Wrap(apperr.KindInternal, "created lead could not be stored", res.Err())
	}
	if _, err := s.sync.UpsertOne(ctx, draft); err != nil {
		if errors.Is(err, leadsync.ErrForeignLead) {
			return transport.LeadResponse{}, apperr.Wrap(apperr.KindConflict, "lead is already stored for another client", err)
		}
		return transport.LeadResponse{}, err
	}

	lead, err := s.repo.GetByExternalID(ctx, rec.ID, clientID)
	if err != nil {
		return transport.LeadResponse{}, mapRepoError(err)
	}
	s.publish(ctx, lead, actorID, []string{"created"})
	return toResponse(lead), nil
}

func (s *Service) container(ctx context.Context, clientID uuid.UUID) (airtable.Container, error) {
	c, err := s.repo.GetContainer(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return airtable.Container{}, apperr.NotFound("client not found")
		}
		return airtable.Container{}, err
	}
	table := c.TableName
	if table == "" {
		table = s.defaultTable
	}
	return airtable.Container{BaseID: c.BaseID, Table: table}, nil
}

func (s *Service) publish(ctx context.Context, lead repository.Lead, actorID uuid.UUID, changed []string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.LeadUpdated{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        lead.ID,
		ClientID:      lead.ClientID,
		ActorID:       actorID,
		ChangedFields: changed,
		ClaimedBy:     lead.ClaimedBy,
	})
}

func parseLocalUpdate(req transport.UpdateLeadRequest) (repository.LocalUpdate, error) {
	u := repository.LocalUpdate{OccurredAt: time.Now().UTC()}
	if req.ClaimedBy != nil {
		u.SetClaim = true
		if raw := strings.TrimSpace(*req.ClaimedBy); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return repository.LocalUpdate{}, apperr.Validation("claimedBy must be a uuid")
			}
			u.ClaimedBy = &id
		}
	}
	if req.Notes != nil {
		u.SetNotes = true
		u.Notes = sanitize.TextPtr(req.Notes)
		if u.Notes != nil && *u.Notes == "" {
			u.Notes = nil
		}
	}
	return u, nil
}

func setIfPresent(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("lead not found")
	}
	return err
}

func mapRemoteError(err error) error {
	switch {
	case airtable.IsRateLimited(err):
		e := apperr.Wrap(apperr.KindTooManyRequests, "airtable is rate limiting requests, retry later", err)
		if d, ok := airtable.RetryAfter(err); ok {
			e = e.WithDetails(map[string]any{"retryAfterSeconds": int(d.Seconds())})
		}
		return e
	case airtable.IsNotFound(err):
		return apperr.Wrap(apperr.KindNotFound, "lead no longer exists in airtable", err)
	case airtable.IsValidation(err):
		return apperr.Wrap(apperr.KindValidation, "airtable rejected the change", err)
	default:
		return apperr.Wrap(apperr.KindUnavailable, "airtable is unavailable", err)
	}
}

func toResponse(l repository.Lead) transport.LeadResponse {
	return transport.LeadResponse{
		ID:            l.ID,
		ExternalID:    l.ExternalID,
		ClientID:      l.ClientID,
		FirstName:     l.FirstName,
		LastName:      l.LastName,
		Email:         l.Email,
		Phone:         l.Phone,
		Status:        l.Status,
		FormID:        l.FormID,
		CampaignID:    l.CampaignID,
		SMSSentCount:  l.SMSSentCount,
		SMSReplyCount: l.SMSReplyCount,
		LastSMSSentAt: l.LastSMSSentAt,
		OptedOut:      l.OptedOut,
		ClaimedBy:     l.ClaimedBy,
		ClaimedAt:     l.ClaimedAt,
		Notes:         l.Notes,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}
