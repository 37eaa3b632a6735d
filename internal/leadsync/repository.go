package leadsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository on the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetClient(ctx context.Context, clientID uuid.UUID) (Client, error) {
	var c Client
	var table *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, airtable_base_id, airtable_table_name, last_synced_at
		FROM clients
		WHERE id = $1
	`, clientID).Scan(&c.ID, &c.Name, &c.BaseID, &table, &c.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("get client: %w", err)
	}
	if table != nil {
		c.TableName = *table
	}
	return c, nil
}

func (r *Repository) LoadCampaignLookup(ctx context.Context, clientID uuid.UUID) (CampaignLookup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT form_id, id
		FROM campaigns
		WHERE client_id = $1 AND form_id IS NOT NULL AND btrim(form_id) <> ''
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lookup := make(CampaignLookup)
	for rows.Next() {
		var formID string
		var id uuid.UUID
		if err := rows.Scan(&formID, &id); err != nil {
			return nil, err
		}
		lookup.Add(formID, id)
	}
	return lookup, rows.Err()
}

// upsertLeadSQL only touches business columns. The WHERE clause skips rows
// owned by another tenant and rows whose business values already match, so
// a repeated sync leaves updated_at alone and returns no row.
const upsertLeadSQL = `
	INSERT INTO leads (
		external_id, client_id, first_name, last_name, email, phone, status, form_id, campaign_id,
		sms_sent_count, sms_reply_count, last_sms_sent_at, opted_out, remote_created_at, remote_modified_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (external_id) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		email = EXCLUDED.email,
		phone = EXCLUDED.phone,
		status = EXCLUDED.status,
		form_id = EXCLUDED.form_id,
		campaign_id = EXCLUDED.campaign_id,
		sms_sent_count = EXCLUDED.sms_sent_count,
		sms_reply_count = EXCLUDED.sms_reply_count,
		last_sms_sent_at = EXCLUDED.last_sms_sent_at,
		opted_out = EXCLUDED.opted_out,
		remote_created_at = EXCLUDED.remote_created_at,
		remote_modified_at = EXCLUDED.remote_modified_at,
		updated_at = now()
	WHERE leads.client_id = EXCLUDED.client_id
		AND (
			leads.first_name, leads.last_name, leads.email, leads.phone, leads.status, leads.form_id,
			leads.campaign_id, leads.sms_sent_count, leads.sms_reply_count, leads.last_sms_sent_at,
			leads.opted_out, leads.remote_created_at, leads.remote_modified_at
		) IS DISTINCT FROM (
			EXCLUDED.first_name, EXCLUDED.last_name, EXCLUDED.email, EXCLUDED.phone, EXCLUDED.status, EXCLUDED.form_id,
			EXCLUDED.campaign_id, EXCLUDED.sms_sent_count, EXCLUDED.sms_reply_count, EXCLUDED.last_sms_sent_at,
			EXCLUDED.opted_out, EXCLUDED.remote_created_at, EXCLUDED.remote_modified_at
		)
	RETURNING (xmax = 0) AS inserted
`

func upsertArgs(d Draft) []any {
	return []any{
		d.ExternalID, d.ClientID, d.FirstName, d.LastName, d.Email, d.Phone, d.Status, d.FormID, d.CampaignID,
		d.SMSSentCount, d.SMSReplyCount, d.LastSMSSentAt, d.OptedOut, d.RemoteCreatedAt, d.RemoteModifiedAt,
	}
}

// scanOutcome reads the RETURNING row. No row means the upsert was skipped,
// which is either an identical row or one owned by another tenant.
func scanOutcome(row pgx.Row) (UpsertOutcome, bool, error) {
	var inserted bool
	err := row.Scan(&inserted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return OutcomeUnchanged, false, nil
	case err != nil:
		return OutcomeUnchanged, false, err
	case inserted:
		return OutcomeCreated, true, nil
	default:
		return OutcomeUpdated, true, nil
	}
}

// ownerSQL finds which of the skipped external ids belong to someone else.
const ownerSQL = `
	SELECT external_id
	FROM leads
	WHERE external_id = ANY($1) AND client_id <> $2
`

func foreignLeads(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, clientID uuid.UUID, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, ownerSQL, externalIDs, clientID)
	if err != nil {
		return nil, fmt.Errorf("check lead owner: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpsertBatch writes every draft in one transaction. Any failing row rolls
// back the whole batch, and so does a draft whose external id is owned by
// another tenant.
func (r *Repository) UpsertBatch(ctx context.Context, drafts []Draft) (UpsertCounts, error) {
	var counts UpsertCounts
	if len(drafts) == 0 {
		return counts, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return counts, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, d := range drafts {
		batch.Queue(upsertLeadSQL, upsertArgs(d)...)
	}

	skipped := make(map[uuid.UUID][]string)
	results := tx.SendBatch(ctx, batch)
	for i, d := range drafts {
		outcome, written, err := scanOutcome(results.QueryRow())
		if err != nil {
			_ = results.Close()
			return UpsertCounts{}, fmt.Errorf("upsert %s: %w", drafts[i].ExternalID, err)
		}
		if !written {
			skipped[d.ClientID] = append(skipped[d.ClientID], d.ExternalID)
		}
		counts.Add(outcome)
	}
	if err := results.Close(); err != nil {
		return UpsertCounts{}, fmt.Errorf("close batch: %w", err)
	}

	for clientID, ids := range skipped {
		foreign, err := foreignLeads(ctx, tx, clientID, ids)
		if err != nil {
			return UpsertCounts{}, err
		}
		if len(foreign) > 0 {
			return UpsertCounts{}, fmt.Errorf("upsert %s: %w", foreign[0], ErrForeignLead)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertCounts{}, fmt.Errorf("commit batch: %w", err)
	}
	return counts, nil
}

func (r *Repository) UpsertOne(ctx context.Context, d Draft) (UpsertOutcome, error) {
	outcome, written, err := scanOutcome(r.pool.QueryRow(ctx, upsertLeadSQL, upsertArgs(d)...))
	if err != nil || written {
		return outcome, err
	}
	foreign, err := foreignLeads(ctx, r.pool, d.ClientID, []string{d.ExternalID})
	if err != nil {
		return OutcomeUnchanged, err
	}
	if len(foreign) > 0 {
		return OutcomeUnchanged, ErrForeignLead
	}
	return OutcomeUnchanged, nil
}

func (r *Repository) MarkClientSynced(ctx context.Context, clientID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE clients SET last_synced_at = $2, updated_at = now()
		WHERE id = $1
	`, clientID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

var _ Store = (*Repository)(nil)
