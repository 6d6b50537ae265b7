package service

import (
	"math/rand"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/hireflow/hireflow/pkg/models"
	"github.com/hireflow/hireflow/pkg/storage"
	"github.com/pkg/errors"
)

// The correlation key is a bracketed job short id in the subject line,
// e.g. "[JOB-4K7] Application - Senior Engineer".
var correlationKeyPattern = regexp.MustCompile(`\[(JOB-[A-Z0-9]+)\]`)

// senderPattern splits "Jane Doe <jane@example.com>" style From headers.
var senderPattern = regexp.MustCompile(`^\s*"?([^"<]*?)"?\s*<([^>]+)>\s*$`)

const shortIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewJobShortID generates a subject-friendly job correlation key.
func NewJobShortID() string {
	b := make([]byte, 4)
	for i := range b {
		b[i] = shortIDAlphabet[rand.Intn(len(shortIDAlphabet))]
	}
	return "JOB-" + string(b)
}

// FormatEmailSubject prefixes a subject with the job's correlation key
// so replies route back to the right job.
func FormatEmailSubject(baseSubject, jobShortID string) string {
	return "[" + jobShortID + "] " + baseSubject
}

// ParseCorrelationKey extracts the job short id from a subject line.
func ParseCorrelationKey(subject string) (string, bool) {
	m := correlationKeyPattern.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Correlator maps external triggers to workflow instances. Each
// physical message is deduplicated by its unique id before any routing
// happens, so at-least-once mailbox delivery never double-invokes the
// engine.
type Correlator struct {
	store  storage.Store
	engine *ExecutionEngine
	logger Logger
}

func NewCorrelator(store storage.Store, engine *ExecutionEngine, logger Logger) *Correlator {
	return &Correlator{store: store, engine: engine, logger: logger}
}

// NotifyInboundMessage routes one inbound email. Outcomes: duplicate
// (message uid seen before), unroutable (no or unknown correlation
// key — logged and dropped, not retried), joined (delivered to the
// pair's active instance as an external start trigger) or started (a
// new instance was created).
func (c *Correlator) NotifyInboundMessage(msg models.InboundMessage) (models.RouteOutcome, error) {
	if msg.MessageUID == "" {
		return models.UnroutableRouteOutcome, errors.New("message uid cannot be empty")
	}
	if err := c.store.SaveInboundMessage(msg); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			c.logger.Infof("Duplicate delivery of message %s ignored", msg.MessageUID)
			return models.DuplicateRouteOutcome, nil
		}
		return models.UnroutableRouteOutcome, errors.Wrapf(err, "record message %s", msg.MessageUID)
	}

	key, ok := ParseCorrelationKey(msg.Subject)
	if !ok {
		c.logger.Infof("Message %s has no correlation key in subject %q; dropped", msg.MessageUID, msg.Subject)
		return models.UnroutableRouteOutcome, nil
	}
	job, err := c.store.GetJobByShortID(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.logger.Infof("Message %s references unknown job key %s; dropped", msg.MessageUID, key)
			return models.UnroutableRouteOutcome, nil
		}
		return models.UnroutableRouteOutcome, errors.Wrapf(err, "look up job by key %s", key)
	}

	candidate, err := c.resolveCandidate(msg.Sender)
	if err != nil {
		return models.UnroutableRouteOutcome, err
	}

	if existing, err := c.store.FindActiveInstance(job.ID, candidate.ID); err == nil {
		// The message acts as the external start trigger for a parked
		// step; past that, it is a no-op.
		if err := c.engine.ExternalStartStep(existing.ID); err != nil {
			return models.JoinedRouteOutcome, err
		}
		return models.JoinedRouteOutcome, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.UnroutableRouteOutcome, err
	}

	_, created, err := c.engine.StartOrResume(job.ID, candidate.ID)
	if err != nil {
		return models.UnroutableRouteOutcome, errors.Wrapf(err, "start instance for job %s", job.ID)
	}
	if !created {
		return models.JoinedRouteOutcome, nil
	}
	c.logger.Infof("Message %s started instance for job %s, candidate %s", msg.MessageUID, job.ID, candidate.ID)
	return models.StartedRouteOutcome, nil
}

// resolveCandidate finds the sender's candidate record by email,
// creating one when the sender is new.
func (c *Correlator) resolveCandidate(sender string) (models.Candidate, error) {
	email, first, last := parseSender(sender)
	if email == "" {
		return models.Candidate{}, errors.Errorf("cannot parse sender %q", sender)
	}
	if existing, err := c.store.GetCandidateByEmail(email); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.Candidate{}, err
	}
	candidate := models.Candidate{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: first,
		LastName:  last,
	}
	if err := c.store.SaveCandidate(candidate); err != nil {
		return models.Candidate{}, errors.Wrapf(err, "save candidate %s", email)
	}
	c.logger.Infof("Created candidate %s (%s)", candidate.ID, email)
	return candidate, nil
}

// parseSender splits a From header into email and a best-effort name.
func parseSender(sender string) (email, first, last string) {
	if m := senderPattern.FindStringSubmatch(sender); m != nil {
		email = strings.TrimSpace(m[2])
		parts := strings.Fields(m[1])
		if len(parts) > 0 {
			first = parts[0]
			last = strings.Join(parts[1:], " ")
		}
		return email, first, last
	}
	email = strings.TrimSpace(sender)
	if !strings.Contains(email, "@") {
		return "", "", ""
	}
	return email, "", ""
}
