// Package platform defines the capability interface between the sync core
// and the host runtime. The core never talks to a concrete transport
// directly; everything remote goes through a Bridge so tests and alternative
// hosts can substitute their own.
package platform

import (
	"context"

	"github.com/villaprodiq/studiosync/internal/entity"
)

// Request is one remote mutation in the backend's wire shape.
type Request struct {
	Action      entity.Action  `json:"action"`
	Entity      entity.Type    `json:"entity"`
	Data        map[string]any `json:"data"`
	BaseVersion string         `json:"base_version,omitempty"`
	HardDelete  bool           `json:"hard_delete,omitempty"`
}

// Response is the backend's structured answer. Exactly one of the three
// outcomes holds: Success, Conflict, or an error classified by ErrorClass.
type Response struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Version       string         `json:"version,omitempty"`
	Conflict      bool           `json:"conflict,omitempty"`
	ServerData    map[string]any `json:"server_data,omitempty"`
	ServerVersion string         `json:"server_version,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorClass    string         `json:"error_class,omitempty"`
}

// Error classes the backend reports for non-conflict rejections.
const (
	ErrorClassUndefinedColumn = "undefined_column"
	ErrorClassUnknownEntity   = "unknown_entity"
)

// Bridge is the capability set the sync core requires from its host.
type Bridge interface {
	// ProbeConnectivity reports whether the remote store is reachable.
	// A nil error means reachable.
	ProbeConnectivity(ctx context.Context) error

	// SendRemote delivers one mutation and returns the structured
	// response. A returned error means the request did not produce a
	// structured answer (network failure, timeout, 5xx) and is treated
	// as transient by the caller.
	SendRemote(ctx context.Context, req Request) (*Response, error)
}
