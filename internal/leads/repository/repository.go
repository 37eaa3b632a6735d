package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID               uuid.UUID
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
	ClaimedBy        *uuid.UUID
	ClaimedAt        *time.Time
	Notes            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Container is where a tenant's leads live in Airtable.
type Container struct {
	BaseID    string
	TableName string
}

const leadColumns = `
	id, external_id, client_id, first_name, last_name, email, phone, status, form_id, campaign_id,
	sms_sent_count, sms_reply_count, last_sms_sent_at, opted_out, remote_created_at, remote_modified_at,
	claimed_by, claimed_at, notes, created_at, updated_at
`

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID, &l.ExternalID, &l.ClientID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Status, &l.FormID, &l.CampaignID,
		&l.SMSSentCount, &l.SMSReplyCount, &l.LastSMSSentAt, &l.OptedOut, &l.RemoteCreatedAt, &l.RemoteModifiedAt,
		&l.ClaimedBy, &l.ClaimedAt, &l.Notes, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (r *Repository) GetByID(ctx context.Context, id, clientID uuid.UUID) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND client_id = $2`, id, clientID))
}

func (r *Repository) GetByExternalID(ctx context.Context, externalID string, clientID uuid.UUID) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE external_id = $1 AND client_id = $2`, externalID, clientID))
}

func (r *Repository) GetContainer(ctx context.Context, clientID uuid.UUID) (Container, error) {
	var c Container
	var table *string
	err := r.pool.QueryRow(ctx, `SELECT airtable_base_id, airtable_table_name FROM clients WHERE id = $1`, clientID).Scan(&c.BaseID, &table)
	if errors.Is(err, pgx.ErrNoRows) {
		return Container{}, ErrNotFound
	}
	if err != nil {
		return Container{}, err
	}
	if table != nil {
		c.TableName = *table
	}
	return c, nil
}

// LocalUpdate changes fields that exist only in this database.
type LocalUpdate struct {
	SetClaim   bool
	ClaimedBy  *uuid.UUID
	SetNotes   bool
	Notes      *string
	OccurredAt time.Time
}

func (r *Repository) UpdateLocal(ctx context.Context, id, clientID uuid.UUID, u LocalUpdate) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads SET
			claimed_by = CASE WHEN $3 THEN $4::uuid ELSE claimed_by END,
			claimed_at = CASE WHEN $3 THEN (CASE WHEN $4::uuid IS NULL THEN NULL ELSE $7::timestamptz END) ELSE claimed_at END,
			notes = CASE WHEN $5 THEN $6::text ELSE notes END,
			updated_at = now()
		WHERE id = $1 AND client_id = $2
		RETURNING `+leadColumns,
		id, clientID, u.SetClaim, u.ClaimedBy, u.SetNotes, u.Notes, u.OccurredAt,
	))
}

// UpdateStatus writes a business field after Airtable accepted the change.
func (r *Repository) UpdateStatus(ctx context.Context, id, clientID uuid.UUID, status string, remoteModifiedAt *time.Time) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads SET
			status = $3,
			remote_modified_at = COALESCE($4, remote_modified_at),
			updated_at = now()
		WHERE id = $1 AND client_id = $2
		RETURNING `+leadColumns,
		id, clientID, status, remoteModifiedAt,
	))
}
