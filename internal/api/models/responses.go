package models

import "github.com/devcollab/notifyd/internal/notification"

// UnreadListResponse is the response for the unread list
type UnreadListResponse struct {
	UserID        string                       `json:"userId"`
	Notifications []*notification.Notification `json:"notifications"`
}

// UnreadCountResponse is the response for the unread count
type UnreadCountResponse struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

// MarkAllReadResponse reports how many notifications changed state
type MarkAllReadResponse struct {
	UserID  string `json:"userId"`
	Updated int    `json:"updated"`
}

// ConnectionStatusResponse reports whether a user holds a live session
type ConnectionStatusResponse struct {
	UserID    string `json:"userId"`
	Connected bool   `json:"connected"`
}

// HealthResponse is the response for health checks
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}
