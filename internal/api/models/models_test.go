package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/devcollab/notifyd/internal/api/errors"
	"github.com/devcollab/notifyd/internal/notification"
)

func TestSendNotificationRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     SendNotificationRequest
		wantErr string
	}{
		{"valid", SendNotificationRequest{RecipientID: "bob", Subject: notification.SubjectApplicationCreated}, ""},
		{"missing recipient", SendNotificationRequest{Subject: "x"}, "required_field_missing"},
		{"blank subject", SendNotificationRequest{RecipientID: "bob", Subject: "  "}, "required_field_missing"},
		{"unknown channel", SendNotificationRequest{RecipientID: "bob", Subject: "x", Channels: []notification.Channel{"email"}}, "invalid_channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var apiErr *apierrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantErr, apiErr.Code)
		})
	}
}

func TestSendNotificationRequestToRequest(t *testing.T) {
	sender := "alice"
	req := SendNotificationRequest{
		RecipientID: " bob ",
		Subject:     notification.SubjectApplicationAccepted,
		SenderID:    &sender,
		Payload:     map[string]any{"projectId": "p1"},
		Channels:    []notification.Channel{notification.ChannelRealtime},
	}

	out := req.ToRequest()
	assert.Equal(t, "bob", out.RecipientID)
	assert.Equal(t, "alice", *out.SenderID)
	assert.Equal(t, notification.Channels{notification.ChannelRealtime}, out.Channels)
	assert.NoError(t, out.Validate())
}
