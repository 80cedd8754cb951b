// Package ai holds the clients for the hosted models used by the diagnosis
// pipeline and the pneumonia classifier.
package ai

import (
	"context"
	"encoding/json"
	"errors"
)

// Role of a conversation turn as understood by the provider
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one role-tagged message sent to the provider
type Turn struct {
	Role Role
	Text string
}

// RawReply is the provider's first candidate exactly as received
type RawReply json.RawMessage

// String returns the serialized reply as stored in the conversation log
func (r RawReply) String() string {
	return string(r)
}

// ErrProviderUnavailable is returned once the provider failed every attempt
// or the circuit in front of it is open.
var ErrProviderUnavailable = errors.New("diagnosis provider unavailable")

// Provider sends an ordered turn list to a generative model
type Provider interface {
	Send(ctx context.Context, turns []Turn) (RawReply, error)
}
