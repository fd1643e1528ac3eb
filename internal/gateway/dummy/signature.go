package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/course-checkout/internal/domain/contract"
)

var _ contract.SignatureGateway = (*SignatureGateway)(nil)

// SignatureGateway is the dummy e-signature backend. Procedures live in an
// in-memory registry keyed by workflow reference.
type SignatureGateway struct {
	secret []byte

	mu        sync.Mutex
	workflows map[string]*workflow
}

type workflow struct {
	Title     string
	Recipient string
	Document  []byte
	Started   bool
}

// NewSignatureGateway creates a dummy signature backend verifying webhooks
// with the given secret.
func NewSignatureGateway(secret []byte) *SignatureGateway {
	return &SignatureGateway{
		secret:    secret,
		workflows: make(map[string]*workflow),
	}
}

// CreateWorkflow opens a signature workflow and returns its reference.
func (g *SignatureGateway) CreateWorkflow(_ context.Context, title, recipientEmail string) (string, error) {
	ref := uuid.New().String()

	g.mu.Lock()
	g.workflows[ref] = &workflow{Title: title, Recipient: recipientEmail}
	g.mu.Unlock()

	return ref, nil
}

// UploadDocument attaches the document to a workflow.
func (g *SignatureGateway) UploadDocument(_ context.Context, workflowReference string, document []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.workflows[workflowReference]
	if !ok {
		return errors.Errorf("unknown workflow %q", workflowReference)
	}
	w.Document = append([]byte(nil), document...)
	return nil
}

// StartProcedure moves the workflow into the signing phase.
func (g *SignatureGateway) StartProcedure(_ context.Context, workflowReference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.workflows[workflowReference]
	if !ok {
		return errors.Errorf("unknown workflow %q", workflowReference)
	}
	if len(w.Document) == 0 {
		return errors.Errorf("workflow %q has no document", workflowReference)
	}
	w.Started = true
	return nil
}

// CreateInvitationLink returns a signing URL for the recipient.
func (g *SignatureGateway) CreateInvitationLink(_ context.Context, workflowReference, recipientEmail string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.workflows[workflowReference]
	if !ok || !w.Started {
		return "", errors.Errorf("no running procedure for %q", workflowReference)
	}
	return fmt.Sprintf("https://sign.example.test/%s?recipient=%s", workflowReference, recipientEmail), nil
}

// DeleteProcedure drops the workflow. Deleting an unknown reference is a
// no-op so resubmission cleanup stays idempotent.
func (g *SignatureGateway) DeleteProcedure(_ context.Context, workflowReference string) error {
	g.mu.Lock()
	delete(g.workflows, workflowReference)
	g.mu.Unlock()
	return nil
}

// signatureEvent is the dummy provider's webhook body.
type signatureEvent struct {
	Reference string `json:"reference"`
	EventType string `json:"event_type"`
}

// VerifyWebhookEvent authenticates the body signature and parses the event.
func (g *SignatureGateway) VerifyWebhookEvent(r *http.Request) (*contract.Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		return nil, errors.Wrap(contract.ErrVerifyEvent, "read body")
	}

	if !verifyHMAC(g.secret, body, r.Header.Get(SignatureHeader)) {
		return nil, errors.Wrap(contract.ErrVerifyEvent, "bad signature")
	}

	var ev signatureEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errors.Wrap(contract.ErrVerifyEvent, "malformed payload")
	}
	if ev.Reference == "" {
		return nil, errors.Wrap(contract.ErrVerifyEvent, "missing reference")
	}

	switch t := contract.EventType(ev.EventType); t {
	case contract.EventFinished, contract.EventRefused:
		return &contract.Event{Reference: ev.Reference, Type: t}, nil
	default:
		return nil, errors.Wrapf(contract.ErrVerifyEvent, "unknown event type %q", ev.EventType)
	}
}

// Sign computes the webhook signature for a body.
func (g *SignatureGateway) Sign(body []byte) string {
	return signHMAC(g.secret, body)
}
