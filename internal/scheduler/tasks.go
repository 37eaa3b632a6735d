package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskLeadSync = "leads.sync"

type LeadSyncPayload struct {
	ClientID string `json:"clientId"`
	Mode     string `json:"mode"`
}

func NewLeadSyncTask(payload LeadSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadSync, data), nil
}

func ParseLeadSyncPayload(task *asynq.Task) (LeadSyncPayload, error) {
	var payload LeadSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadSyncPayload{}, err
	}
	return payload, nil
}
