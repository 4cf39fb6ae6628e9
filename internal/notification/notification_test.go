package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{RecipientID: "bob", Subject: SubjectApplicationAccepted}, false},
		{"empty recipient", Request{RecipientID: "", Subject: "x"}, true},
		{"blank recipient", Request{RecipientID: "   ", Subject: "x"}, true},
		{"empty subject", Request{RecipientID: "bob"}, true},
		{"unknown channel", Request{RecipientID: "bob", Subject: "x", Channels: Channels{"email"}}, true},
		{"explicit channels", Request{RecipientID: "bob", Subject: "x", Channels: Channels{ChannelPersisted}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRequestNormalize(t *testing.T) {
	req := Request{RecipientID: "bob", Subject: "x"}
	req.Normalize()

	assert.NotNil(t, req.Payload)
	assert.True(t, req.Channels.Has(ChannelRealtime))
	assert.True(t, req.Channels.Has(ChannelPersisted))

	dup := Request{RecipientID: "bob", Subject: "x", Channels: Channels{ChannelRealtime, ChannelRealtime}}
	dup.Normalize()
	assert.Equal(t, Channels{ChannelRealtime}, dup.Channels)
}

func TestToNotificationDropsEmptySender(t *testing.T) {
	empty := ""
	req := Request{RecipientID: "bob", Subject: "x", SenderID: &empty}
	req.Normalize()

	n := req.ToNotification()
	assert.Nil(t, n.SenderID)
	assert.Equal(t, "bob", n.RecipientID)
	assert.Nil(t, n.ReadAt)
}

func TestMarkReadIsOneWay(t *testing.T) {
	n := &Notification{ID: "n1"}
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, n.MarkRead(first))
	assert.False(t, n.MarkRead(first.Add(time.Hour)))
	require.NotNil(t, n.ReadAt)
	assert.True(t, n.ReadAt.Equal(first))
}

func TestCloneIsDeep(t *testing.T) {
	sender := "alice"
	n := &Notification{
		ID:       "n1",
		SenderID: &sender,
		Payload:  map[string]any{"role": "backend"},
		Channels: DefaultChannels(),
	}

	c := n.Clone()
	c.Payload["role"] = "frontend"
	*c.SenderID = "mallory"
	c.MarkRead(time.Now())

	assert.Equal(t, "backend", n.Payload["role"])
	assert.Equal(t, "alice", *n.SenderID)
	assert.False(t, n.IsRead())
}
