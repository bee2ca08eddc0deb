package server

import (
	"time"

	"truckdash/internal/notify"
	truckdashsdk "truckdash/sdk/go"
)

// Request payloads

type DateFilterRequest struct {
	From string `json:"from,omitempty" doc:"Inclusive lower bound, YYYY-MM-DD" example:"2024-01-01"`
	To   string `json:"to,omitempty" doc:"Inclusive upper bound, YYYY-MM-DD" example:"2024-01-31"`
}

type RefreshRequest struct {
	Filters map[string]string `json:"filters,omitempty" doc:"Extra list/stats query filters such as terminal"`
}

// Response payloads

type HealthResponse struct {
	Status    string `json:"status" example:"ok"`
	Connected bool   `json:"connected" doc:"Push channel open"`
}

type SessionResponse struct {
	Authenticated bool               `json:"authenticated"`
	Role          string             `json:"role,omitempty" example:"admin"`
	User          *truckdashsdk.User `json:"user,omitempty"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
}

type TrucksResponse struct {
	Trucks    []truckdashsdk.Truck `json:"trucks"`
	Loading   bool                 `json:"loading"`
	Error     string               `json:"error,omitempty"`
	Connected bool                 `json:"connected"`
	From      string               `json:"date_from,omitempty"`
	To        string               `json:"date_to,omitempty"`
}

type DateFilterResponse struct {
	From string `json:"date_from,omitempty"`
	To   string `json:"date_to,omitempty"`
}

type NotificationResponse = notify.Notification
