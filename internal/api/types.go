package api

import "github.com/dreamware/profilestore/internal/profile"

// BasePath prefixes every profile endpoint.
const BasePath = "/api/profile/v1"

// Endpoint paths relative to BasePath.
const (
	PathShow          = "/show"
	PathShowService   = "/show-service"
	PathShowOverlay   = "/show-overlay"
	PathSet           = "/set"
	PathSetService    = "/set-service"
	PathRemove        = "/remove"
	PathRemoveService = "/remove-service"
)

// Response type tags.
const (
	TypeShow    = "show"
	TypeSet     = "set"
	TypeRemoved = "removed"
	TypeError   = "error"
)

// ShowRequest is the body of /show, /show-service and /show-overlay.
// Service is ignored by /show.
type ShowRequest struct {
	ID      uint64   `json:"id"`
	Service string   `json:"service,omitempty"`
	Entries []string `json:"entries"`
}

// SetRequest is the body of /set and /set-service.
type SetRequest struct {
	ID      uint64          `json:"id"`
	Service string          `json:"service,omitempty"`
	Entries []profile.Entry `json:"entries"`
}

// RemoveRequest is the body of /remove and /remove-service.
type RemoveRequest struct {
	ID      uint64 `json:"id"`
	Service string `json:"service,omitempty"`
}

// ShowResponse carries the values found by a show operation.
type ShowResponse struct {
	Type   string            `json:"type"`
	Values map[string]string `json:"values"`
}

// StatusResponse acknowledges a mutation.
type StatusResponse struct {
	Type string `json:"type"`
}

// ErrorResponse reports any failure.
type ErrorResponse struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
