// Package record defines the access-control document kept per health record
// and the stores that own its durability, concurrency control, and key
// custody.
package record

import (
	"slices"
	"time"
)

// RequestStatus tracks the lifecycle of a single access request. A request
// never moves back to pending once resolved.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
)

// AccessRequest is one requester's outstanding or resolved ask for access.
type AccessRequest struct {
	RequesterID string        `json:"requesterId"`
	Reason      string        `json:"reason"`
	RequestedAt time.Time     `json:"requestedAt"`
	Status      RequestStatus `json:"status"`
}

// RequestLogEntry is the append-only history of request events. It is a
// superset of the pending list and is retained after resolution.
type RequestLogEntry struct {
	RequesterID string    `json:"requesterId"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

// EmergencyAccess records one break-glass invocation.
type EmergencyAccess struct {
	RequesterID string    `json:"requesterId"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// Metadata holds the non-sensitive descriptive fields set by the uploader.
type Metadata struct {
	Name       string `json:"name"`
	Date       string `json:"date"`
	UploadedBy string `json:"uploadedBy"`
}

// Record is the access-control document, one per health record. The payload
// itself lives in the blob store under PayloadRef; this document decides who
// may read it.
type Record struct {
	ID          string   `json:"recordId"`
	PayloadRef  string   `json:"payloadRef"`
	Fingerprint string   `json:"fingerprint"`
	Metadata    Metadata `json:"metadata"`

	// AccessGranted is the set of requester IDs currently permitted to read
	// the payload. Membership is only ever added by approval or break-glass;
	// denial does not revoke.
	AccessGranted []string `json:"accessGranted"`

	PendingRequests []AccessRequest   `json:"pendingAccessRequests"`
	RequestLog      []RequestLogEntry `json:"accessRequestLog"`
	EmergencyLog    []EmergencyAccess `json:"emergencyAccessLog"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasAccess reports whether the requester is in the granted set.
func (r *Record) HasAccess(requesterID string) bool {
	return slices.Contains(r.AccessGranted, requesterID)
}

// Grant adds the requester to the granted set. Returns false when the
// requester was already granted (set semantics).
func (r *Record) Grant(requesterID string) bool {
	if r.HasAccess(requesterID) {
		return false
	}
	r.AccessGranted = append(r.AccessGranted, requesterID)
	return true
}

// PendingFor returns the pending request for the requester, or nil. The
// engine keeps at most one pending entry per requester.
func (r *Record) PendingFor(requesterID string) *AccessRequest {
	for i := range r.PendingRequests {
		if r.PendingRequests[i].RequesterID == requesterID && r.PendingRequests[i].Status == StatusPending {
			return &r.PendingRequests[i]
		}
	}
	return nil
}

// ResolvePending transitions every pending entry for the requester to the
// given terminal status. Entries already resolved are left untouched. Returns
// the number of entries transitioned.
func (r *Record) ResolvePending(requesterID string, status RequestStatus) int {
	resolved := 0
	for i := range r.PendingRequests {
		if r.PendingRequests[i].RequesterID == requesterID && r.PendingRequests[i].Status == StatusPending {
			r.PendingRequests[i].Status = status
			resolved++
		}
	}
	return resolved
}

// Clone returns a deep copy so store callers can never alias stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.AccessGranted = slices.Clone(r.AccessGranted)
	clone.PendingRequests = slices.Clone(r.PendingRequests)
	clone.RequestLog = slices.Clone(r.RequestLog)
	clone.EmergencyLog = slices.Clone(r.EmergencyLog)
	return &clone
}
