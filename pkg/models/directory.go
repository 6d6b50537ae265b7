package models

import "time"

// Job is an open position. ShortID is the correlation key embedded in
// email subjects (e.g., "JOB-4K7"); it maps to exactly one job.
type Job struct {
	ID         string    `json:"id" db:"id"` // UUID
	Title      string    `json:"title" db:"title"`
	ShortID    string    `json:"short_id" db:"short_id"`
	TemplateID string    `json:"template_id" db:"template_id"` // Template instantiated per applicant
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Candidate is an applicant, keyed by email for inbound correlation.
type Candidate struct {
	ID        string    `json:"id" db:"id"` // UUID
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// InboundMessage is one physical message delivered by the mailbox poller.
// MessageUID dedupes at-least-once delivery.
type InboundMessage struct {
	MessageUID string    `json:"message_uid" db:"message_uid"`
	Sender     string    `json:"sender" db:"sender"`   // Raw From header
	Subject    string    `json:"subject" db:"subject"` // Carries the correlation key
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// RouteOutcome classifies what the correlator did with an inbound message.
type RouteOutcome string

const (
	StartedRouteOutcome    RouteOutcome = "STARTED"    // New instance created
	JoinedRouteOutcome     RouteOutcome = "JOINED"     // Delivered to the existing active instance
	UnroutableRouteOutcome RouteOutcome = "UNROUTABLE" // No/unknown correlation key; logged and dropped
	DuplicateRouteOutcome  RouteOutcome = "DUPLICATE"  // MessageUID already seen
)
