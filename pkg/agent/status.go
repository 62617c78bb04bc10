package agent

import (
	"fmt"

	"github.com/morezero/cim-broker/pkg/codec"
)

// Status is the heartbeat frame an agent publishes on its status subject.
type Status struct {
	Group       string `cbor:"group"`
	UserName    string `cbor:"user,omitempty"`
	UserContext uint16 `cbor:"userContext,omitempty"`
	PID         int    `cbor:"pid"`
	// Started is the agent start time in Unix seconds.
	Started int64  `cbor:"started"`
	Seq     uint64 `cbor:"seq"`
	// Active is true while the agent has loaded providers.
	Active bool `cbor:"active"`
	// Stopping is set on the last frame of an agent that shuts down cleanly.
	Stopping bool `cbor:"stopping,omitempty"`
}

func EncodeStatus(s Status) ([]byte, error) {
	b, err := codec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("agent:status - encode status of %s: %w", s.Group, err)
	}
	return b, nil
}

func DecodeStatus(data []byte) (Status, error) {
	var s Status
	if err := codec.Unmarshal(data, &s); err != nil {
		return Status{}, fmt.Errorf("agent:status - decode status: %w", err)
	}
	if s.Group == "" {
		return Status{}, fmt.Errorf("agent:status - status frame without group")
	}
	return s, nil
}

// Control ops.
const (
	ControlUnloadIdle = "unloadIdle"
)

// Control is a housekeeping command sent to an agent as JSON.
type Control struct {
	Op          string `json:"op"`
	IdleSeconds int    `json:"idleSeconds,omitempty"`
}
