package router

import (
	"encoding/json"
)

// Outcome is the result of one relay attempt. None of them is reported
// back to the sender.
type Outcome int

const (
	Delivered Outcome = iota
	TargetNotConnected
	DeliveryFailed
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TargetNotConnected:
		return "target_not_connected"
	case DeliveryFailed:
		return "delivery_failed"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

// InboundMessage is a relay request: {type, targetUserId, payload}.
type InboundMessage struct {
	Type         string
	TargetUserID string
	Payload      json.RawMessage
}

type SenderInfo struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// RelayEnvelope is what the target receives.
type RelayEnvelope struct {
	Type         string          `json:"type"`
	SenderUserID string          `json:"senderUserId"`
	SenderInfo   SenderInfo      `json:"senderInfo"`
	Payload      json.RawMessage `json:"payload"`
}
