package models

import (
	"strings"

	"github.com/devcollab/notifyd/internal/api/errors"
	"github.com/devcollab/notifyd/internal/api/validation"
	"github.com/devcollab/notifyd/internal/notification"
)

const (
	maxIdentityLength = 256
	maxSubjectLength  = 128
)

// SendNotificationRequest is the producer request to send a notification
type SendNotificationRequest struct {
	RecipientID string                 `json:"recipientId"`
	Subject     string                 `json:"subject"`
	SenderID    *string                `json:"senderId,omitempty"`
	Payload     map[string]any         `json:"payload,omitempty"`
	Channels    []notification.Channel `json:"channels,omitempty"`
}

// Validate validates the request
func (r *SendNotificationRequest) Validate() error {
	if err := validation.Required("recipientId", r.RecipientID); err != nil {
		return err
	}
	if err := validation.MaxLength("recipientId", r.RecipientID, maxIdentityLength); err != nil {
		return err
	}
	if err := validation.Required("subject", r.Subject); err != nil {
		return err
	}
	if err := validation.MaxLength("subject", r.Subject, maxSubjectLength); err != nil {
		return err
	}
	for _, ch := range r.Channels {
		if ch != notification.ChannelRealtime && ch != notification.ChannelPersisted {
			return errors.ValidationError("invalid_channel", "channel must be realtime or persisted: "+string(ch)).
				WithDetails(map[string]any{
					"field":   "channels",
					"allowed": []notification.Channel{notification.ChannelRealtime, notification.ChannelPersisted},
				})
		}
	}
	return nil
}

// ToRequest converts the body to a dispatcher request
func (r *SendNotificationRequest) ToRequest() notification.Request {
	return notification.Request{
		RecipientID: strings.TrimSpace(r.RecipientID),
		Subject:     strings.TrimSpace(r.Subject),
		SenderID:    r.SenderID,
		Payload:     r.Payload,
		Channels:    notification.Channels(r.Channels),
	}
}

// MarkAllReadRequest is the request to acknowledge every unread notification
type MarkAllReadRequest struct {
	UserID string `json:"userId"`
}

// Validate validates the request. With authentication enabled the user may
// come from the token instead.
func (r *MarkAllReadRequest) Validate() error {
	return validation.MaxLength("userId", r.UserID, maxIdentityLength)
}
