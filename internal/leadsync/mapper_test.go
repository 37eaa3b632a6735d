package leadsync

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"client_portal_backend/internal/airtable"
)

func mustMapper(t *testing.T, aliases map[string]string) *Mapper {
	t.Helper()
	m, err := NewMapper("US", aliases)
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}
	return m
}

func TestMapPopulatesBusinessFields(t *testing.T) {
	clientID := uuid.New()
	campaignID := uuid.New()
	created := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	rec := airtable.Record{
		ID:          "rec1",
		CreatedTime: created,
		Fields: map[string]any{
			FieldFirstName:   " Ada ",
			FieldLastName:    "Lovelace",
			FieldEmail:       "Ada@Example.COM",
			FieldPhone:       "(650) 253-0000",
			FieldStatus:      "Contacted",
			FieldFormID:      "form-7",
			FieldSMSSent:     float64(3),
			FieldSMSReplies:  "1",
			FieldLastSMSSent: "2024-03-01T10:00:00.000Z",
			FieldOptedOut:    true,
		},
	}

	res := mustMapper(t, nil).Map(rec, clientID, CampaignLookup{"form-7": campaignID})
	d, ok := res.Draft()
	if !ok {
		t.Fatalf("unexpected mapping error: %v", res.Err())
	}

	if d.ExternalID != "rec1" || d.ClientID != clientID {
		t.Fatalf("unexpected identity %+v", d)
	}
	if d.FirstName != "Ada" || d.LastName != "Lovelace" {
		t.Fatalf("unexpected name %q %q", d.FirstName, d.LastName)
	}
	if d.Email == nil || *d.Email != "ada@example.com" {
		t.Fatalf("expected lowercased email, got %v", d.Email)
	}
	if d.Phone == nil || *d.Phone != "+16502530000" {
		t.Fatalf("expected E.164 phone, got %v", d.Phone)
	}
	if d.Status != "contacted" {
		t.Fatalf("expected lowercased status, got %q", d.Status)
	}
	if d.SMSSentCount != 3 || d.SMSReplyCount != 1 {
		t.Fatalf("unexpected counters %d/%d", d.SMSSentCount, d.SMSReplyCount)
	}
	if d.LastSMSSentAt == nil || !d.LastSMSSentAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last sms time %v", d.LastSMSSentAt)
	}
	if !d.OptedOut {
		t.Fatalf("expected opted out")
	}
	if d.RemoteCreatedAt == nil || !d.RemoteCreatedAt.Equal(created) {
		t.Fatalf("expected created time fallback, got %v", d.RemoteCreatedAt)
	}
	if !d.Enriched || d.CampaignID == nil || *d.CampaignID != campaignID {
		t.Fatalf("expected campaign enrichment, got %+v", d)
	}
}

func TestMapAppliesFallbacksForMissingFields(t *testing.T) {
	res := mustMapper(t, nil).Map(airtable.Record{ID: "rec2", Fields: map[string]any{}}, uuid.New(), nil)
	d, ok := res.Draft()
	if !ok {
		t.Fatalf("unexpected error: %v", res.Err())
	}
	if d.Status != DefaultStatus {
		t.Fatalf("expected default status, got %q", d.Status)
	}
	if d.Email != nil || d.Phone != nil || d.CampaignID != nil || d.Enriched {
		t.Fatalf("expected empty optional fields, got %+v", d)
	}
	if d.SMSSentCount != 0 || d.SMSReplyCount != 0 || d.OptedOut {
		t.Fatalf("expected zero defaults, got %+v", d)
	}
}

func TestMapUnmatchedFormIsNotAnError(t *testing.T) {
	rec := airtable.Record{ID: "rec3", Fields: map[string]any{FieldFormID: "unknown-form"}}
	d, ok := mustMapper(t, nil).Map(rec, uuid.New(), CampaignLookup{"form-1": uuid.New()}).Draft()
	if !ok {
		t.Fatalf("expected success")
	}
	if d.Enriched || d.CampaignID != nil {
		t.Fatalf("expected no enrichment")
	}
	if d.FormID == nil || *d.FormID != "unknown-form" {
		t.Fatalf("expected form id to be kept, got %v", d.FormID)
	}
}

func TestMapMatchesFormIDsIgnoringSurroundingSpace(t *testing.T) {
	campaignID := uuid.New()
	lookup := make(CampaignLookup)
	lookup.Add("  form-1 ", campaignID)
	lookup.Add("   ", uuid.New())
	if len(lookup) != 1 {
		t.Fatalf("expected blank form ids to be ignored, got %v", lookup)
	}

	rec := airtable.Record{ID: "rec4", Fields: map[string]any{FieldFormID: " form-1\t"}}
	d, ok := mustMapper(t, nil).Map(rec, uuid.New(), lookup).Draft()
	if !ok {
		t.Fatalf("expected success")
	}
	if !d.Enriched || d.CampaignID == nil || *d.CampaignID != campaignID {
		t.Fatalf("expected campaign %s, got %v", campaignID, d.CampaignID)
	}
	if *d.FormID != "form-1" {
		t.Fatalf("expected trimmed form id, got %q", *d.FormID)
	}
}

func TestMapSplitsFullNameOnlyWhenPartsMissing(t *testing.T) {
	m := mustMapper(t, nil)

	d, _ := m.Map(airtable.Record{ID: "a", Fields: map[string]any{FieldFullName: "Grace  Brewster Hopper"}}, uuid.New(), nil).Draft()
	if d.FirstName != "Grace" || d.LastName != "Brewster Hopper" {
		t.Fatalf("unexpected split %q / %q", d.FirstName, d.LastName)
	}

	d, _ = m.Map(airtable.Record{ID: "b", Fields: map[string]any{FieldFullName: "Someone Else", FieldFirstName: "Grace"}}, uuid.New(), nil).Draft()
	if d.FirstName != "Grace" || d.LastName != "" {
		t.Fatalf("expected explicit first name to win, got %q / %q", d.FirstName, d.LastName)
	}
}

func TestMapRejectsUnparseableRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{name: "count text", field: FieldSMSSent, value: "abc"},
		{name: "negative count", field: FieldSMSReplies, value: float64(-1)},
		{name: "fractional count", field: FieldSMSSent, value: 1.5},
		{name: "bad created date", field: FieldCreated, value: "not a date"},
		{name: "created wrong type", field: FieldCreated, value: float64(12)},
		{name: "opted out text", field: FieldOptedOut, value: "maybe"},
		{name: "status object", field: FieldStatus, value: map[string]any{"x": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustMapper(t, nil).Map(airtable.Record{ID: "bad", Fields: map[string]any{tt.field: tt.value}}, uuid.New(), nil)
			if _, ok := res.Draft(); ok {
				t.Fatalf("expected mapping failure")
			}
			if !IsMappingError(res.Err()) {
				t.Fatalf("expected MappingError, got %v", res.Err())
			}
			if !strings.Contains(res.Err().Error(), tt.field) {
				t.Fatalf("expected error to name the field, got %v", res.Err())
			}
		})
	}
}

func TestMapToleratesBadOptionalDates(t *testing.T) {
	rec := airtable.Record{ID: "rec", Fields: map[string]any{FieldLastSMSSent: "yesterday", FieldLastModified: "soon"}}
	d, ok := mustMapper(t, nil).Map(rec, uuid.New(), nil).Draft()
	if !ok {
		t.Fatalf("optional date failures must not fail the record")
	}
	if d.LastSMSSentAt != nil || d.RemoteModifiedAt != nil {
		t.Fatalf("expected nil optional dates, got %+v", d)
	}
}

func TestMapCollectsUnknownFieldsAndHonoursAliases(t *testing.T) {
	m := mustMapper(t, map[string]string{"Phone Number": FieldPhone})
	rec := airtable.Record{ID: "rec", Fields: map[string]any{
		"Phone Number":     "+31 6 12345678",
		"Favourite Colour": "green",
		"Zip":              "1234",
	}}

	d, ok := m.Map(rec, uuid.New(), nil).Draft()
	if !ok {
		t.Fatalf("unexpected failure")
	}
	if d.Phone == nil || *d.Phone != "+31612345678" {
		t.Fatalf("expected aliased phone, got %v", d.Phone)
	}
	if strings.Join(d.UnknownFields, ",") != "Favourite Colour,Zip" {
		t.Fatalf("unexpected unknown fields %v", d.UnknownFields)
	}
}

func TestMapKeepsRawPhoneWhenUnparseable(t *testing.T) {
	rec := airtable.Record{ID: "rec", Fields: map[string]any{FieldPhone: " call me "}}
	d, _ := mustMapper(t, nil).Map(rec, uuid.New(), nil).Draft()
	if d.Phone == nil || *d.Phone != "call me" {
		t.Fatalf("expected trimmed raw phone, got %v", d.Phone)
	}
}

func TestParseAliases(t *testing.T) {
	aliases, err := ParseAliases([]byte("aliases:\n  \"Phone Number\": \"Phone\"\n  \"E-mail\": \"Email\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aliases["Phone Number"] != FieldPhone || aliases["E-mail"] != FieldEmail {
		t.Fatalf("unexpected aliases %v", aliases)
	}

	if _, err := ParseAliases([]byte("aliases:\n  \"Zip\": \"Postcode\"\n")); err == nil {
		t.Fatalf("expected alias to unknown field to fail")
	}
	_, err = NewMapper("US", map[string]string{"Zip": "Postcode"})
	if err == nil {
		t.Fatalf("expected NewMapper to reject unknown alias target")
	}
	if !strings.Contains(err.Error(), FieldEmail) {
		t.Fatalf("expected error to list known fields, got %v", err)
	}
}
