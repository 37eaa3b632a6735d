package transport

import (
	"time"

	"github.com/google/uuid"
)

type UpdateLeadRequest struct {
	// ClaimedBy assigns the lead; an empty string releases the claim.
	ClaimedBy *string `json:"claimedBy"`
	Notes     *string `json:"notes" validate:"omitempty,max=4000"`
	Status    *string `json:"status" validate:"omitempty,max=64"`
}

type CreateLeadRequest struct {
	FirstName string `json:"firstName" validate:"required,min=1,max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"omitempty,min=5,max=32"`
	Status    string `json:"status" validate:"omitempty,max=64"`
	FormID    string `json:"formId" validate:"omitempty,max=128"`
}

type LeadResponse struct {
	ID            uuid.UUID  `json:"id"`
	ExternalID    string     `json:"externalId"`
	ClientID      uuid.UUID  `json:"clientId"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Email         *string    `json:"email,omitempty"`
	Phone         *string    `json:"phone,omitempty"`
	Status        string     `json:"status"`
	FormID        *string    `json:"formId,omitempty"`
	CampaignID    *uuid.UUID `json:"campaignId,omitempty"`
	SMSSentCount  int        `json:"smsSentCount"`
	SMSReplyCount int        `json:"smsReplyCount"`
	LastSMSSentAt *time.Time `json:"lastSmsSentAt,omitempty"`
	OptedOut      bool       `json:"optedOut"`
	ClaimedBy     *uuid.UUID `json:"claimedBy,omitempty"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
