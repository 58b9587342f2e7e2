// Package audit keeps the append-only, access-affecting event trail. The log
// exists for post-hoc accountability only; current access state always comes
// from the record store, never from replaying events.
package audit

import "time"

// Action names an access-affecting event.
type Action string

const (
	ActionRecordCreated   Action = "record_created"
	ActionAccessRequested Action = "access_requested"
	ActionAccessGranted   Action = "access_granted"
	ActionAccessDenied    Action = "access_denied"
	ActionEmergencyAccess Action = "emergency_access"
	ActionAccessRefused   Action = "access_refused"
	ActionPayloadRead     Action = "payload_read"
	ActionRecordPurged    Action = "record_purged"
)

// Event is one immutable entry in the trail. Events never carry key material
// or payload contents.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RecordID  string    `json:"recordId"`
	ActorID   string    `json:"actorId"`
	Action    Action    `json:"action"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}
