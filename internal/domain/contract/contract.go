// Package contract handles training contracts: generation of the signable
// document context, submission to the e-signature provider, and the webhook
// events that finish or refuse a signature.
package contract

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a referenced contract does not exist.
	ErrNotFound = errors.New("contract not found")
	// ErrVerifyEvent is returned when a signature webhook cannot be
	// authenticated. No state change happens.
	ErrVerifyEvent = errors.New("signature event could not be verified")
)

// Contract is the signature record attached to one order. A contract is
// created lazily at first submission and reused across resubmissions.
type Contract struct {
	ID         string
	OrderID    string
	TemplateID string
	// Checksum fingerprints the generated document context so drift
	// between submission and signature is detectable.
	Checksum string
	// BackendReference identifies the signature procedure on the provider
	// side.
	BackendReference        string
	SubmittedForSignatureOn *time.Time
	SignedOn                *time.Time
	CreatedAt               time.Time
}

// Repository persists contracts.
type Repository interface {
	Save(ctx context.Context, c *Contract) error
	GetByOrder(ctx context.Context, orderID string) (*Contract, error)
	GetByReference(ctx context.Context, backendReference string) (*Contract, error)
}

// EventType enumerates signature webhook outcomes.
type EventType string

const (
	// EventFinished means every recipient signed.
	EventFinished EventType = "finished"
	// EventRefused means a recipient declined to sign.
	EventRefused EventType = "refused"
)

// Event is a verified signature provider notification.
type Event struct {
	Reference string
	Type      EventType
}

// SignatureGateway is the port an e-signature backend implements, mirroring
// the payment gateway's verify-then-act shape.
type SignatureGateway interface {
	CreateWorkflow(ctx context.Context, title string, recipientEmail string) (string, error)
	UploadDocument(ctx context.Context, workflowReference string, document []byte) error
	StartProcedure(ctx context.Context, workflowReference string) error
	CreateInvitationLink(ctx context.Context, workflowReference, recipientEmail string) (string, error)
	DeleteProcedure(ctx context.Context, workflowReference string) error

	// VerifyWebhookEvent authenticates and parses an incoming signature
	// webhook, failing with ErrVerifyEvent when it cannot be trusted.
	VerifyWebhookEvent(r *http.Request) (*Event, error)
}
