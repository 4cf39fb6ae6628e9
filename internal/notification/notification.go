// Package notification defines the notification record, the delivery
// channels a producer can request, and the error taxonomy shared by the
// store, the dispatcher and the HTTP surface.
package notification

import (
	"fmt"
	"strings"
	"time"
)

// Channel names a delivery path for a notification
type Channel string

const (
	// ChannelRealtime pushes the notification over the recipient's live connection
	ChannelRealtime Channel = "realtime"

	// ChannelPersisted records the notification durably until it is read
	ChannelPersisted Channel = "persisted"
)

// Event names pushed to connections
const (
	EventNewNotification     = "new-notification"
	EventUnreadNotifications = "unread-notifications"
	EventNotificationRead    = "notification-read"
)

// Subjects produced by the collaboration platform. Subjects are free-form,
// these are the ones the platform currently emits.
const (
	SubjectApplicationCreated  = "application.created"
	SubjectApplicationAccepted = "application.accepted"
	SubjectApplicationRejected = "application.rejected"
	SubjectRolePublished       = "project.role.published"
)

// Channels is the set of channels requested for a notification
type Channels []Channel

// DefaultChannels returns the channel set used when a producer does not pick one
func DefaultChannels() Channels {
	return Channels{ChannelRealtime, ChannelPersisted}
}

// Has reports whether ch is part of the set
func (c Channels) Has(ch Channel) bool {
	for _, existing := range c {
		if existing == ch {
			return true
		}
	}
	return false
}

// Notification is a fact surfaced to exactly one recipient
type Notification struct {
	ID          string         `json:"id"`
	Subject     string         `json:"subject"`
	RecipientID string         `json:"recipientId"`
	SenderID    *string        `json:"senderId"`
	Payload     map[string]any `json:"payload"`
	Channels    Channels       `json:"channels"`
	CreatedAt   time.Time      `json:"createdAt"`
	ReadAt      *time.Time     `json:"readAt"`
}

// IsRead reports whether the read timestamp has been set
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// MarkRead sets the read timestamp unless it is already set. It reports
// whether the notification changed state.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.ReadAt != nil {
		return false
	}
	at = at.UTC()
	n.ReadAt = &at
	return true
}

// Clone returns a deep copy so stores never hand out their internal records
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.SenderID != nil {
		sender := *n.SenderID
		c.SenderID = &sender
	}
	if n.ReadAt != nil {
		readAt := *n.ReadAt
		c.ReadAt = &readAt
	}
	if n.Payload != nil {
		c.Payload = make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			c.Payload[k] = v
		}
	}
	if n.Channels != nil {
		c.Channels = append(Channels(nil), n.Channels...)
	}
	return &c
}

// Request is what a producing use case hands to the dispatcher
type Request struct {
	RecipientID string         `json:"recipientId"`
	Subject     string         `json:"subject"`
	SenderID    *string        `json:"senderId,omitempty"`
	Payload     map[string]any `json:"payload"`
	Channels    Channels       `json:"channels,omitempty"`
}

// Validate checks the fields a producer must supply
func (r *Request) Validate() error {
	if strings.TrimSpace(r.RecipientID) == "" {
		return fmt.Errorf("%w: recipient identity is required", ErrValidation)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("%w: subject type is required", ErrValidation)
	}
	for _, ch := range r.Channels {
		if ch != ChannelRealtime && ch != ChannelPersisted {
			return fmt.Errorf("%w: unknown channel %q", ErrValidation, ch)
		}
	}
	return nil
}

// Normalize fills defaults: an empty payload map and the default channel set
func (r *Request) Normalize() {
	if r.Payload == nil {
		r.Payload = map[string]any{}
	}
	if len(r.Channels) == 0 {
		r.Channels = DefaultChannels()
		return
	}

	seen := make(map[Channel]struct{}, len(r.Channels))
	deduped := make(Channels, 0, len(r.Channels))
	for _, ch := range r.Channels {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		deduped = append(deduped, ch)
	}
	r.Channels = deduped
}

// ToNotification builds an unsaved notification from the request
func (r *Request) ToNotification() *Notification {
	n := &Notification{
		Subject:     r.Subject,
		RecipientID: r.RecipientID,
		Payload:     r.Payload,
		Channels:    r.Channels,
	}
	if r.SenderID != nil && *r.SenderID != "" {
		sender := *r.SenderID
		n.SenderID = &sender
	}
	return n
}

// ReadAll is the notification-read payload sent after a bulk acknowledgement
type ReadAll struct {
	UserID string   `json:"userId"`
	All    bool     `json:"all"`
	Count  int      `json:"count"`
	IDs    []string `json:"ids"`
}
