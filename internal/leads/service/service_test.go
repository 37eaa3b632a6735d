package service

import (
	"context"
	"errors"
	"sync"
	"testing"
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
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

type fakeRepo struct {
	log   *callLog
	leads map[uuid.UUID]repository.Lead
}

func (r *fakeRepo) GetByID(ctx context.Context, id, clientID uuid.UUID) (repository.Lead, error) {
	l, ok := r.leads[id]
	if !ok || l.ClientID != clientID {
		return repository.Lead{}, repository.ErrNotFound
	}
	return l, nil
}

func (r *fakeRepo) GetByExternalID(ctx context.Context, externalID string, clientID uuid.UUID) (repository.Lead, error) {
	for _, l := range r.leads {
		if l.ExternalID == externalID && l.ClientID == clientID {
			return l, nil
		}
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (r *fakeRepo) GetContainer(ctx context.Context, clientID uuid.UUID) (repository.Container, error) {
	return repository.Container{BaseID: "appX"}, nil
}

func (r *fakeRepo) UpdateLocal(ctx context.Context, id, clientID uuid.UUID, u repository.LocalUpdate) (repository.Lead, error) {
	r.log.add("local")
	l := r.leads[id]
	if u.SetClaim {
		l.ClaimedBy = u.ClaimedBy
	}
	if u.SetNotes {
		l.Notes = u.Notes
	}
	r.leads[id] = l
	return l, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id, clientID uuid.UUID, status string, remoteModifiedAt *time.Time) (repository.Lead, error) {
	r.log.add("status")
	l := r.leads[id]
	l.Status = status
	r.leads[id] = l
	return l, nil
}

type fakeRemote struct {
	log       *callLog
	updateErr error
	fields    map[string]any
	container airtable.Container
	repo      *fakeRepo
	clientID  uuid.UUID
}

func (f *fakeRemote) UpdateRecord(ctx context.Context, container airtable.Container, externalID string, fields map[string]any) (airtable.Record, error) {
	f.log.add("remote-update")
	f.fields = fields
	f.container = container
	if f.updateErr != nil {
		return airtable.Record{}, f.updateErr
	}
	return airtable.Record{ID: externalID, Fields: fields}, nil
}

func (f *fakeRemote) CreateRecord(ctx context.Context, container airtable.Container, fields map[string]any) (airtable.Record, error) {
	f.log.add("remote-create")
	f.fields = fields
	return airtable.Record{ID: "recNew", CreatedTime: time.Now(), Fields: fields}, nil
}

type fakeSyncStore struct {
	repo *fakeRepo
	err  error
}

func (s *fakeSyncStore) LoadCampaignLookup(ctx context.Context, clientID uuid.UUID) (leadsync.CampaignLookup, error) {
	return leadsync.CampaignLookup{}, nil
}

func (s *fakeSyncStore) UpsertOne(ctx context.Context, d leadsync.Draft) (leadsync.UpsertOutcome, error) {
	if s.err != nil {
		return leadsync.OutcomeUnchanged, s.err
	}
	id := uuid.New()
	s.repo.leads[id] = repository.Lead{ID: id, ExternalID: d.ExternalID, ClientID: d.ClientID, FirstName: d.FirstName, Email: d.Email, Status: d.Status}
	return leadsync.OutcomeCreated, nil
}

type memSessions struct {
	mu     sync.Mutex
	owners map[int64]*memSession
}

type memSession struct{ src *memSessions }

func (m *memSessions) Session(ctx context.Context) (lock.Session, error) {
	return &memSession{src: m}, nil
}

func (s *memSession) TryLock(ctx context.Context, key int64) (bool, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if owner, ok := s.src.owners[key]; ok && owner != s {
		return false, nil
	}
	s.src.owners[key] = s
	return true, nil
}

func (s *memSession) Lock(ctx context.Context, key int64) error {
	if ok, _ := s.TryLock(ctx, key); !ok {
		return errors.New("would block")
	}
	return nil
}

func (s *memSession) Unlock(ctx context.Context, key int64) (bool, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.src.owners[key] != s {
		return false, nil
	}
	delete(s.src.owners, key)
	return true, nil
}

func (s *memSession) Close(context.Context, bool) {}

type recordingBus struct {
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, e events.Event) { b.events = append(b.events, e) }
func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}
func (b *recordingBus) Subscribe(string, events.Handler) {}

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	remote   *fakeRemote
	sync     *fakeSyncStore
	bus      *recordingBus
	calls    *callLog
	sessions *memSessions
	clientID uuid.UUID
	leadID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New("development")
	calls := &callLog{}
	clientID := uuid.New()
	leadID := uuid.New()
	repo := &fakeRepo{log: calls, leads: map[uuid.UUID]repository.Lead{
		leadID: {ID: leadID, ExternalID: "rec1", ClientID: clientID, Status: "new"},
	}}
	remote := &fakeRemote{log: calls}
	mapper, err := leadsync.NewMapper("US", nil)
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	sessions := &memSessions{owners: make(map[int64]*memSession)}
	bus := &recordingBus{}
	guard := lock.New(sessions, LockNamespace, log)
	syncStore := &fakeSyncStore{repo: repo}

	return &fixture{
		svc:      New(repo, remote, syncStore, mapper, guard, bus, "Leads", log),
		sync:     syncStore,
		repo:     repo,
		remote:   remote,
		bus:      bus,
		calls:    calls,
		sessions: sessions,
		clientID: clientID,
		leadID:   leadID,
	}
}

func strPtr(s string) *string { return &s }

func TestUpdateNotesStaysLocal(t *testing.T) {
	f := newFixture(t)

	lead, err := f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{Notes: strPtr("call back <b>tomorrow</b>")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead.Notes == nil || *lead.Notes != "call back tomorrow" {
		t.Fatalf("expected sanitized notes, got %v", lead.Notes)
	}
	if len(f.calls.calls) != 1 || f.calls.calls[0] != "local" {
		t.Fatalf("expected only a local write, got %v", f.calls.calls)
	}
	if len(f.bus.events) != 1 {
		t.Fatalf("expected one LeadUpdated event, got %d", len(f.bus.events))
	}
}

func TestUpdateStatusWritesAirtableFirst(t *testing.T) {
	f := newFixture(t)
	claimant := uuid.New()

	lead, err := f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{
		Status:    strPtr("Contacted"),
		ClaimedBy: strPtr(claimant.String()),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"remote-update", "status", "local"}
	if len(f.calls.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, f.calls.calls)
	}
	for i := range want {
		if f.calls.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, f.calls.calls)
		}
	}
	if f.remote.fields[leadsync.FieldStatus] != "Contacted" {
		t.Fatalf("unexpected remote fields %v", f.remote.fields)
	}
	if f.remote.container != (airtable.Container{BaseID: "appX", Table: "Leads"}) {
		t.Fatalf("unexpected container %+v", f.remote.container)
	}
	if lead.Status != "contacted" || lead.ClaimedBy == nil || *lead.ClaimedBy != claimant {
		t.Fatalf("unexpected lead %+v", lead)
	}

	ev := f.bus.events[0].(events.LeadUpdated)
	if len(ev.ChangedFields) != 2 || ev.ChangedFields[0] != "status" || ev.ChangedFields[1] != "claimedBy" {
		t.Fatalf("unexpected changed fields %v", ev.ChangedFields)
	}
}

func TestUpdateSameStatusSkipsAirtable(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{Status: strPtr("NEW")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.calls.calls) != 0 {
		t.Fatalf("expected no writes, got %v", f.calls.calls)
	}
	if len(f.bus.events) != 0 {
		t.Fatalf("expected no event for a no-op edit")
	}
}

func TestUpdateMapsAirtableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{name: "rate limited", err: &airtable.Error{Kind: airtable.KindRateLimited, RetryAfter: 30 * time.Second}, want: apperr.KindTooManyRequests},
		{name: "not found", err: &airtable.Error{Kind: airtable.KindNotFound}, want: apperr.KindNotFound},
		{name: "validation", err: &airtable.Error{Kind: airtable.KindValidation}, want: apperr.KindValidation},
		{name: "unavailable", err: &airtable.Error{Kind: airtable.KindUnavailable}, want: apperr.KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.remote.updateErr = tt.err

			_, err := f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{Status: strPtr("won")})
			if !apperr.Is(err, tt.want) {
				t.Fatalf("expected kind %v, got %v", tt.want, err)
			}
			if f.repo.leads[f.leadID].Status != "new" {
				t.Fatalf("local status must not change when airtable rejects the edit")
			}
		})
	}
}

func TestUpdateBusyLeadIsConflict(t *testing.T) {
	f := newFixture(t)
	other := lock.New(f.sessions, LockNamespace, logger.New("development"))
	if ok, _ := other.TryAcquire(context.Background(), f.leadID.String()); !ok {
		t.Fatalf("expected to take the lock")
	}

	_, err := f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{Notes: strPtr("x")})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.calls.calls) != 0 {
		t.Fatalf("expected no writes while busy, got %v", f.calls.calls)
	}
}

func TestUpdateReleasesLockAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.updateErr = &airtable.Error{Kind: airtable.KindUnavailable}

	_, _ = f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{Status: strPtr("won")})

	f.remote.updateErr = nil
	if _, err := f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{Status: strPtr("won")}); err != nil {
		t.Fatalf("expected lock to be free after a failed edit, got %v", err)
	}
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Update(context.Background(), f.clientID, uuid.New(), f.leadID, transport.UpdateLeadRequest{ClaimedBy: strPtr("bob")})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = f.svc.Update(context.Background(), uuid.New(), uuid.New(), f.leadID, transport.UpdateLeadRequest{Notes: strPtr("x")})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for another tenant, got %v", err)
	}
}

func TestCreateGoesThroughAirtable(t *testing.T) {
	f := newFixture(t)

	lead, err := f.svc.Create(context.Background(), f.clientID, uuid.New(), transport.CreateLeadRequest{
		FirstName: "Ada",
		Email:     "ADA@x.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.remote.fields[leadsync.FieldFirstName] != "Ada" {
		t.Fatalf("unexpected remote fields %v", f.remote.fields)
	}
	if _, ok := f.remote.fields[leadsync.FieldLastName]; ok {
		t.Fatalf("empty fields must not be sent")
	}
	if lead.ExternalID != "recNew" || lead.Email == nil || *lead.Email != "ada@x.com" {
		t.Fatalf("unexpected lead %+v", lead)
	}
	if lead.Status != leadsync.DefaultStatus {
		t.Fatalf("expected default status, got %q", lead.Status)
	}
}

func TestCreateRejectsLeadOwnedByAnotherClient(t *testing.T) {
	f := newFixture(t)
	f.sync.err = leadsync.ErrForeignLead

	_, err := f.svc.Create(context.Background(), f.clientID, uuid.New(), transport.CreateLeadRequest{Email: "ada@x.com"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.bus.events) != 0 {
		t.Fatalf("expected no event, got %d", len(f.bus.events))
	}
}
