package models

import "time"

type EventKind string

const (
	EventProposalCreated   EventKind = "proposal.created"
	EventProposalDecided   EventKind = "proposal.decided"
	EventTransferInitiated EventKind = "transfer.initiated"
	EventTransferSigned    EventKind = "transfer.signed"
	EventTransferRejected  EventKind = "transfer.rejected"
	EventTransferExecuted  EventKind = "transfer.executed"
)

// Event é uma notificação fora de banda para uma carteira.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Recipient  string         `json:"recipient"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}
