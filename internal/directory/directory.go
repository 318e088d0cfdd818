package directory

import (
	"context"
	"errors"
)

// Directory answers whether a dependent service is known.
// Implementations must be safe for concurrent use.
type Directory interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// Service describes a dependent service known to the directory.
type Service struct {
	Name string `json:"name" yaml:"name"`
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Wire paths served by the directory daemon.
const (
	ExistsPath   = "/api/services/v1/exists"
	RegisterPath = "/api/services/v1/register"
	RemovePath   = "/api/services/v1/remove"
	ServicesPath = "/api/services/v1/services"
)

// Response type tags.
const (
	TypeExists     = "exists"
	TypeRegistered = "registered"
	TypeRemoved    = "removed"
	TypeServices   = "services"
	TypeError      = "error"
)

// ExistsRequest asks whether the service named ID is known. The remove
// endpoint takes the same body.
type ExistsRequest struct {
	ID string `json:"id"`
}

// ExistsResponse is the tagged answer to an ExistsRequest.
type ExistsResponse struct {
	Type   string `json:"type"`
	Value  bool   `json:"value"`
	Reason string `json:"reason,omitempty"`
}

// RegisterRequest upserts a service descriptor.
type RegisterRequest struct {
	Service Service `json:"service"`
}

// ServicesResponse lists every registered service.
type ServicesResponse struct {
	Type     string    `json:"type"`
	Services []Service `json:"services"`
}

// StatusResponse acknowledges a registration or removal.
type StatusResponse struct {
	Type string `json:"type"`
}

// ErrorResponse carries a failure reason.
type ErrorResponse struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrEmptyName is returned when registering a service without a name.
var ErrEmptyName = errors.New("service name is empty")

// RemoteError is a failure reported by a remote directory.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string { return e.Reason }
