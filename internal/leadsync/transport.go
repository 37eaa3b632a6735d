package leadsync

// TriggerSyncRequest starts a run from the cron or admin endpoint.
type TriggerSyncRequest struct {
	ClientID string `json:"clientId" validate:"required,uuid"`
	Mode     string `json:"mode" validate:"omitempty,oneof=full incremental"`
	Async    bool   `json:"async"`
}

// StreamSyncQuery is the query string of the progress stream endpoint.
type StreamSyncQuery struct {
	ClientID string `form:"clientId" validate:"required,uuid"`
	Mode     string `form:"mode" validate:"omitempty,oneof=full incremental"`
}

// EnqueuedResponse is returned for async triggers.
type EnqueuedResponse struct {
	TaskID   string `json:"taskId"`
	ClientID string `json:"clientId"`
	Mode     string `json:"mode"`
}
