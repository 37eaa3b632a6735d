package airtable

import "time"

// Container addresses one table inside one Airtable base.
type Container struct {
	BaseID string
	Table  string
}

// Record is an immutable snapshot of one remote row.
type Record struct {
	ID             string
	CreatedTime    time.Time
	Fields         map[string]any
	LastModifiedAt *time.Time
}

// StreamOptions narrows a StreamAllRecords call.
type StreamOptions struct {
	// PageSize is capped at 100 by Airtable. Zero means 100.
	PageSize int
	// ModifiedSince switches to incremental mode.
	ModifiedSince *time.Time
	// View restricts the stream to a named view.
	View string
	// Fields limits returned fields; empty returns all.
	Fields []string
}

// lastModifiedField is the conventional formula field carrying LAST_MODIFIED_TIME().
const lastModifiedField = "Last Modified"

type apiRecord struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

type listResponse struct {
	Records []apiRecord `json:"records"`
	Offset  string      `json:"offset"`
}

type writeRequest struct {
	Fields   map[string]any `json:"fields"`
	Typecast bool           `json:"typecast"`
}

func (a apiRecord) toRecord() Record {
	rec := Record{
		ID:          a.ID,
		CreatedTime: a.CreatedTime,
		Fields:      a.Fields,
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if raw, ok := rec.Fields[lastModifiedField].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.LastModifiedAt = &ts
		}
	}
	return rec
}
