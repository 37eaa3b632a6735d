package leadsync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"client_portal_backend/internal/airtable"
	"client_portal_backend/internal/events"
)

type storedLead struct {
	draft     Draft
	claimedBy *string
	writes    int
}

// fakeStore keeps leads in memory with the same conflict rules as the SQL
// upsert: business fields only, no-op when unchanged, and a lead owned by
// another tenant rejects the write.
type fakeStore struct {
	mu           sync.Mutex
	clients      map[uuid.UUID]Client
	campaigns    CampaignLookup
	leads        map[string]*storedLead
	poison       map[string]bool
	batchCalls   int
	singleCalls  int
	syncedAt     map[uuid.UUID]time.Time
	markErr      error
	campaignsErr error
}

func newFakeStore(clients ...Client) *fakeStore {
	s := &fakeStore{
		clients:  make(map[uuid.UUID]Client),
		leads:    make(map[string]*storedLead),
		poison:   make(map[string]bool),
		syncedAt: make(map[uuid.UUID]time.Time),
	}
	for _, c := range clients {
		s.clients[c.ID] = c
	}
	return s
}

func (s *fakeStore) GetClient(ctx context.Context, clientID uuid.UUID) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	return c, nil
}

func (s *fakeStore) LoadCampaignLookup(ctx context.Context, clientID uuid.UUID) (CampaignLookup, error) {
	if s.campaignsErr != nil {
		return nil, s.campaignsErr
	}
	return s.campaigns, nil
}

func (s *fakeStore) UpsertBatch(ctx context.Context, drafts []Draft) (UpsertCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	for _, d := range drafts {
		if s.poison[d.ExternalID] {
			return UpsertCounts{}, errors.New("violates check constraint")
		}
	}
	for _, d := range drafts {
		if s.foreign(d) {
			return UpsertCounts{}, fmt.Errorf("upsert %s: %w", d.ExternalID, ErrForeignLead)
		}
	}
	var counts UpsertCounts
	for _, d := range drafts {
		counts.Add(s.apply(d))
	}
	return counts, nil
}

func (s *fakeStore) UpsertOne(ctx context.Context, d Draft) (UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.singleCalls++
	if s.poison[d.ExternalID] {
		return OutcomeUnchanged, errors.New("violates check constraint")
	}
	if s.foreign(d) {
		return OutcomeUnchanged, ErrForeignLead
	}
	return s.apply(d), nil
}

func (s *fakeStore) foreign(d Draft) bool {
	existing, ok := s.leads[d.ExternalID]
	return ok && existing.draft.ClientID != d.ClientID
}

func (s *fakeStore) apply(d Draft) UpsertOutcome {
	d.Enriched = false
	d.UnknownFields = nil

	existing, ok := s.leads[d.ExternalID]
	if !ok {
		s.leads[d.ExternalID] = &storedLead{draft: d, writes: 1}
		return OutcomeCreated
	}
	if reflect.DeepEqual(existing.draft, d) {
		return OutcomeUnchanged
	}
	existing.draft = d
	existing.writes++
	return OutcomeUpdated
}

func (s *fakeStore) MarkClientSynced(ctx context.Context, clientID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.syncedAt[clientID] = at
	return nil
}

// fakeRemote serves fixed pages, then optionally fails.
type fakeRemote struct {
	pages    [][]airtable.Record
	failWith error
	lastOpts airtable.StreamOptions
	lastCont airtable.Container
}

func (r *fakeRemote) StreamAllRecords(ctx context.Context, container airtable.Container, opts airtable.StreamOptions, onRecord func(airtable.Record) error) error {
	r.lastOpts = opts
	r.lastCont = container
	for _, page := range r.pages {
		for _, rec := range page {
			if err := onRecord(rec); err != nil {
				return err
			}
		}
	}
	return r.failWith
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func emailRecord(id, email string) airtable.Record {
	return airtable.Record{ID: id, Fields: map[string]any{FieldEmail: email}}
}
