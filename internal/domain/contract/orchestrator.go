package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/offering"
	"github.com/xenking/course-checkout/internal/domain/order"
)

// OrchestratorConfig holds the orchestrator's knobs.
type OrchestratorConfig struct {
	// Validity bounds how long an unsigned submission stays current before
	// a retrigger resubmits it.
	Validity time.Duration
	// RecipientEmail is where signature invitations go until buyer
	// profiles carry their own address.
	RecipientEmail string
}

// Orchestrator owns the contract signature workflow around the order
// lifecycle: it submits documents once an order is validated and applies
// finished/refused events coming back from the provider.
type Orchestrator struct {
	cfg        OrchestratorConfig
	contracts  Repository
	orders     order.Repository
	offerings  offering.Repository
	signatures SignatureGateway
	now        func() time.Time
	lg         *zap.Logger
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(
	cfg OrchestratorConfig,
	contracts Repository,
	orders order.Repository,
	offerings offering.Repository,
	signatures SignatureGateway,
	lg *zap.Logger,
) *Orchestrator {
	if cfg.Validity <= 0 {
		cfg.Validity = 7 * 24 * time.Hour
	}
	return &Orchestrator{
		cfg:        cfg,
		contracts:  contracts,
		orders:     orders,
		offerings:  offerings,
		signatures: signatures,
		now:        time.Now,
		lg:         lg,
	}
}

// documentContext is the signable payload derived from order, offering and
// owner. Its serialized form is checksummed to detect drift.
type documentContext struct {
	OrderID        string `json:"order_id"`
	OwnerID        string `json:"owner_id"`
	OfferingID     string `json:"offering_id"`
	ProductID      string `json:"product_id"`
	OrganizationID string `json:"organization_id"`
	TemplateID     string `json:"template_id"`
	Total          string `json:"total"`
}

// SubmitForSignature generates the contract document for a validated order
// and submits it to the signature provider.
//
// Policy: an order whose product defines no contract template is a no-op. A
// current submission (same checksum, within the validity window) is left
// alone; a stale or drifted one is overwritten in place with a fresh backend
// reference, checksum and timestamp. An already-signed contract is final.
func (oc *Orchestrator) SubmitForSignature(ctx context.Context, orderID string) error {
	o, err := oc.orders.Get(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "get order")
	}
	if !o.State.ReachedValidation() {
		return &order.GuardError{Op: "submit for signature", State: o.State,
			Reason: "order has not reached validation"}
	}

	off, err := oc.offerings.Get(ctx, o.OfferingID)
	if err != nil {
		return errors.Wrap(err, "get offering")
	}
	if off.ContractTemplateID == "" {
		return nil
	}

	document, checksum, err := oc.renderDocument(o, off)
	if err != nil {
		return err
	}

	c, err := oc.contracts.GetByOrder(ctx, orderID)
	switch {
	case errors.Is(err, ErrNotFound):
		c = &Contract{
			ID:         uuid.New().String(),
			OrderID:    orderID,
			TemplateID: off.ContractTemplateID,
			CreatedAt:  oc.now(),
		}
	case err != nil:
		return errors.Wrap(err, "get contract")
	}

	if c.SignedOn != nil {
		return nil
	}
	if oc.submissionCurrent(c, checksum) {
		return nil
	}

	// Stale or drifted: the old procedure is abandoned best-effort before
	// the record is overwritten.
	if c.BackendReference != "" {
		if err := oc.signatures.DeleteProcedure(ctx, c.BackendReference); err != nil {
			oc.lg.Warn("Deleting stale signature procedure failed",
				zap.String("order_id", orderID),
				zap.String("reference", c.BackendReference),
				zap.Error(err))
		}
	}

	reference, err := oc.signatures.CreateWorkflow(ctx, "Training contract "+orderID, oc.cfg.RecipientEmail)
	if err != nil {
		return errors.Wrap(err, "create signature workflow")
	}
	if err := oc.signatures.UploadDocument(ctx, reference, document); err != nil {
		return errors.Wrap(err, "upload contract document")
	}
	if err := oc.signatures.StartProcedure(ctx, reference); err != nil {
		return errors.Wrap(err, "start signature procedure")
	}

	submittedOn := oc.now()
	c.BackendReference = reference
	c.Checksum = checksum
	c.SubmittedForSignatureOn = &submittedOn

	if err := oc.contracts.Save(ctx, c); err != nil {
		return errors.Wrap(err, "save contract")
	}

	oc.lg.Info("Contract submitted for signature",
		zap.String("order_id", orderID),
		zap.String("reference", reference))
	return nil
}

// InvitationLink returns a signing invitation for the order's outstanding
// submission.
func (oc *Orchestrator) InvitationLink(ctx context.Context, orderID string) (string, error) {
	c, err := oc.contracts.GetByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if c.SubmittedForSignatureOn == nil {
		return "", errors.New("contract is not awaiting signature")
	}
	return oc.signatures.CreateInvitationLink(ctx, c.BackendReference, oc.cfg.RecipientEmail)
}

// HandleNotification verifies a signature provider webhook and applies the
// outcome: finished records the signature, refused resets the contract so a
// resubmission starts clean.
func (oc *Orchestrator) HandleNotification(ctx context.Context, r *http.Request) error {
	ev, err := oc.signatures.VerifyWebhookEvent(r)
	if err != nil {
		return errors.Wrap(err, "verify signature event")
	}

	c, err := oc.contracts.GetByReference(ctx, ev.Reference)
	if err != nil {
		return errors.Wrap(err, "resolve signature reference")
	}

	switch ev.Type {
	case EventFinished:
		signedOn := oc.now()
		c.SignedOn = &signedOn
		c.SubmittedForSignatureOn = nil
	case EventRefused:
		c.Checksum = ""
		c.BackendReference = ""
		c.SubmittedForSignatureOn = nil
		c.SignedOn = nil
	default:
		return errors.Wrap(ErrVerifyEvent, "unsupported event type "+string(ev.Type))
	}

	if err := oc.contracts.Save(ctx, c); err != nil {
		return errors.Wrap(err, "save contract")
	}

	oc.lg.Info("Signature event applied",
		zap.String("order_id", c.OrderID),
		zap.String("event", string(ev.Type)))
	return nil
}

// submissionCurrent reports whether the existing submission still stands:
// same document and inside the validity window.
func (oc *Orchestrator) submissionCurrent(c *Contract, checksum string) bool {
	if c.SubmittedForSignatureOn == nil {
		return false
	}
	if c.Checksum != checksum {
		return false
	}
	return oc.now().Sub(*c.SubmittedForSignatureOn) < oc.cfg.Validity
}

func (oc *Orchestrator) renderDocument(o *order.Order, off *offering.Offering) (document []byte, checksum string, err error) {
	doc := documentContext{
		OrderID:        o.ID,
		OwnerID:        o.OwnerID,
		OfferingID:     off.ID,
		ProductID:      off.ProductID,
		OrganizationID: off.OrganizationID,
		TemplateID:     off.ContractTemplateID,
		Total:          o.Total.StringFixed(2),
	}
	document, err = json.Marshal(doc)
	if err != nil {
		return nil, "", errors.Wrap(err, "marshal document context")
	}
	sum := sha256.Sum256(document)
	return document, hex.EncodeToString(sum[:]), nil
}
