package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/archive"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
)

// Settler applies a completed payment to its invoice.
type Settler interface {
	SettlePayment(ctx context.Context, invoiceID string, payment *models.Payment) (*settlement.Result, error)
}

// Service ingests provider callbacks and administrative payment actions and
// routes every completion through the Settler.
type Service struct {
	repo     Repository
	settler  Settler
	archiver archive.Archiver
	secrets  map[string]string
	retry    settlement.RetryPolicy
}

type Option func(*Service)

// WithArchiver stores raw webhook payloads after processing.
func WithArchiver(a archive.Archiver) Option {
	return func(s *Service) {
		if a != nil {
			s.archiver = a
		}
	}
}

// WithSecrets sets webhook secrets per provider.
func WithSecrets(secrets map[string]string) Option {
	return func(s *Service) { s.secrets = secrets }
}

func WithRetryPolicy(p settlement.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, settler Settler, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		settler:  settler,
		archiver: archive.NopArchiver{},
		secrets:  map[string]string{},
		retry:    settlement.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, settler Settler, opts ...Option) *Service {
	return NewService(NewRepository(db), settler, opts...)
}

// SecretsFromEnv reads WEBHOOK_SECRET_<PROVIDER> for every webhook provider.
func SecretsFromEnv() map[string]string {
	secrets := make(map[string]string)
	for _, p := range WebhookProviders() {
		if v := strings.TrimSpace(env.GetEnv("WEBHOOK_SECRET_"+strings.ToUpper(p), "")); v != "" {
			secrets[p] = v
		}
	}
	return secrets
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, outcome IngestOutcome, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, string(outcome), errMsg)
}

// Ingest applies one canonical event. Completed events go through the
// Settler, failed and cancelled ones update the payment attempt, anything
// else is ignored. An event that points nowhere is queued for review and
// reported with ErrUnresolvableReference.
func (s *Service) Ingest(ctx context.Context, ev *PaymentEvent) (*IngestResult, error) {
	if ev == nil {
		return nil, invalidPayload("nil event")
	}
	ev.Provider = strings.ToLower(strings.TrimSpace(ev.Provider))
	if !models.IsKnownPaymentProvider(ev.Provider) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, ev.Provider)
	}
	if ev.ObservedStatus == StatusUnsupported || ev.ObservedStatus == "" {
		log.Debugf("[Billing] ignoring %s event %s (%s)", ev.Provider, ev.ProviderEventID, ev.EventType)
		return &IngestResult{Outcome: OutcomeIgnored}, nil
	}
	if ev.ObservedStatus == StatusCompleted && ev.ProviderTransactionID == "" {
		return nil, invalidPayload("completed %s event without transaction id", ev.Provider)
	}

	res, err := s.resolve(ctx, ev)
	if err != nil {
		if !errors.Is(err, ErrUnresolvableReference) {
			return nil, err
		}
		s.queueUnresolvable(ctx, ev, err)
		return &IngestResult{Outcome: OutcomeQueuedForReview}, err
	}

	switch ev.ObservedStatus {
	case StatusCompleted:
		return s.settle(ctx, ev, res)
	case StatusFailed, StatusCancelled, StatusPending:
		return s.updateAttempt(ctx, ev, res)
	default:
		return &IngestResult{Outcome: OutcomeIgnored, InvoiceID: res.InvoiceID}, nil
	}
}

func (s *Service) settle(ctx context.Context, ev *PaymentEvent, res *resolution) (*IngestResult, error) {
	payment := res.Payment
	if payment == nil {
		payment = &models.Payment{
			Provider:  ev.Provider,
			InvoiceID: res.InvoiceID,
		}
	}
	txn := ev.ProviderTransactionID
	payment.ProviderTransactionID = &txn
	payment.Status = models.PaymentStatusCompleted
	if !ev.Amount.IsZero() {
		payment.Amount = ev.Amount
	}
	if len(ev.Raw) > 0 && json.Valid(ev.Raw) {
		payment.RawMetadata = datatypes.JSON(ev.Raw)
	}

	var out *settlement.Result
	err := settlement.Retry(ctx, s.retry, func(ctx context.Context) error {
		r, err := s.settler.SettlePayment(ctx, res.InvoiceID, payment)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &IngestResult{InvoiceID: out.InvoiceID, PaymentID: out.PaymentID}
	switch out.Outcome {
	case settlement.OutcomeSettled:
		result.Outcome = OutcomeSettled
	case settlement.OutcomeInvoiceAlreadyPaid:
		result.Outcome = OutcomeInvoiceAlreadyPaid
	default:
		result.Outcome = OutcomeAlreadySettled
	}
	return result, nil
}

func (s *Service) updateAttempt(ctx context.Context, ev *PaymentEvent, res *resolution) (*IngestResult, error) {
	status := string(ev.ObservedStatus)
	result := &IngestResult{Outcome: OutcomeStatusUpdated, InvoiceID: res.InvoiceID}

	if res.Payment != nil {
		txn := ""
		if res.Payment.TransactionID() == "" {
			txn = ev.ProviderTransactionID
		}
		updated, err := s.repo.UpdatePaymentStatusIfNotCompleted(ctx, res.Payment.ID, status, txn)
		if err != nil {
			return nil, err
		}
		result.PaymentID = res.Payment.ID
		if !updated {
			log.Warnf("[Billing] %s reported %s for completed payment %s, keeping completed", ev.Provider, status, res.Payment.ID)
			result.Outcome = OutcomeIgnored
		}
		return result, nil
	}

	inv, err := s.repo.GetInvoice(ctx, res.InvoiceID)
	if err != nil {
		return nil, err
	}
	p := &models.Payment{
		InvoiceID: inv.ID,
		MemberID:  inv.MemberID,
		Provider:  ev.Provider,
		Amount:    ev.Amount,
		Status:    status,
	}
	if p.Amount.IsZero() {
		p.Amount = inv.AmountDue
	}
	if ev.ProviderTransactionID != "" {
		txn := ev.ProviderTransactionID
		p.ProviderTransactionID = &txn
	}
	if len(ev.Raw) > 0 && json.Valid(ev.Raw) {
		p.RawMetadata = datatypes.JSON(ev.Raw)
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	result.PaymentID = p.ID
	return result, nil
}

func (s *Service) queueUnresolvable(ctx context.Context, ev *PaymentEvent, cause error) {
	log.Warnf("[Billing] %v", cause)
	if _, err := s.repo.OpenReviewItem(ctx, &models.ReviewItem{
		Kind:      models.ReviewKindUnresolvableReference,
		Reference: reviewReference(ev),
		Provider:  ev.Provider,
		InvoiceID: ev.InvoiceRef.InvoiceID,
		Detail:    cause.Error(),
	}); err != nil {
		log.Errorf("[Billing] failed to queue unresolvable %s event: %v", ev.Provider, err)
	}
}

// StartPayment opens a pending payment attempt. The external reference is
// what the provider echoes back; one is generated when empty.
func (s *Service) StartPayment(ctx context.Context, invoiceID, provider, externalReference string) (*models.Payment, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !models.IsKnownPaymentProvider(provider) || provider == models.PaymentProviderManual {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	inv, err := s.repo.GetInvoice(ctx, strings.TrimSpace(invoiceID))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", settlement.ErrInvoiceNotFound, invoiceID)
		}
		return nil, err
	}
	if inv.IsPaid() {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceAlreadyPaid, inv.ID)
	}

	ref := strings.TrimSpace(externalReference)
	if ref == "" {
		ref = "KW-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	}
	p := &models.Payment{
		InvoiceID:         inv.ID,
		MemberID:          inv.MemberID,
		Provider:          provider,
		ExternalReference: &ref,
		Amount:            inv.AmountDue,
		Status:            models.PaymentStatusPending,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	log.Infof("[Billing] started %s payment %s for invoice %s (reference %s)", provider, p.ID, inv.ID, ref)
	return p, nil
}

// MarkPaid settles an invoice by administrative action through the same
// path as provider callbacks.
func (s *Service) MarkPaid(ctx context.Context, invoiceID, actor, note string) (*IngestResult, error) {
	inv, err := s.repo.GetInvoice(ctx, strings.TrimSpace(invoiceID))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", settlement.ErrInvoiceNotFound, invoiceID)
		}
		return nil, err
	}
	if inv.IsPaid() {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceAlreadyPaid, inv.ID)
	}
	if strings.TrimSpace(actor) == "" {
		actor = "admin"
	}
	return s.Ingest(ctx, NewManualEvent(inv.ID, actor, note))
}

// WebhookRequest is one inbound delivery.
type WebhookRequest struct {
	Provider string
	Payload  []byte
	Header   func(key string) string
	Query    func(key string) string
}

// WebhookResult tells the HTTP layer how a delivery was handled.
type WebhookResult struct {
	EventID   uint
	Duplicate bool
	Outcome   IngestOutcome
	InvoiceID string
	PaymentID string
}

// HandleWebhook stores the delivery in the inbox, verifies and maps it and
// ingests the canonical event. A delivery already processed without error
// is reported as duplicate and not applied again.
func (s *Service) HandleWebhook(ctx context.Context, req WebhookRequest) (*WebhookResult, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	mapper, err := MapperFor(provider)
	if err != nil {
		return nil, err
	}

	signatureValid := VerifyWebhookSignature(SignatureRequest{
		Provider: provider,
		Payload:  req.Payload,
		Header:   req.Header,
		Query:    req.Query,
		Secret:   s.secrets[provider],
	})
	ev, mapErr := mapper.Map(req.Payload)

	in := WebhookEventInput{
		Provider:       provider,
		PayloadJSON:    string(req.Payload),
		SignatureValid: signatureValid,
	}
	if mapErr == nil {
		in.ProviderEventID = ev.ProviderEventID
		in.EventType = ev.EventType
	}
	created, stored, err := s.RecordWebhookEvent(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to persist webhook: %w", err)
	}

	result := &WebhookResult{EventID: stored.ID}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		result.Duplicate = true
		result.Outcome = IngestOutcome(stored.Outcome)
		if result.Outcome == OutcomeSettled {
			// The first delivery did the work; this one changed nothing.
			result.Outcome = OutcomeAlreadySettled
		}
		return result, nil
	}

	if !signatureValid {
		_ = s.MarkWebhookProcessed(ctx, stored.ID, "", ErrInvalidSignature)
		return nil, ErrInvalidSignature
	}
	if mapErr != nil {
		_ = s.MarkWebhookProcessed(ctx, stored.ID, "", mapErr)
		return nil, mapErr
	}

	ingested, err := s.Ingest(ctx, ev)
	if err != nil && !errors.Is(err, ErrUnresolvableReference) {
		_ = s.MarkWebhookProcessed(ctx, stored.ID, "", err)
		return nil, err
	}
	_ = s.MarkWebhookProcessed(ctx, stored.ID, ingested.Outcome, err)

	result.Outcome = ingested.Outcome
	result.InvoiceID = ingested.InvoiceID
	result.PaymentID = ingested.PaymentID

	if created {
		if aerr := s.archiver.Archive(ctx, provider, stored.ProviderEventID, req.Payload); aerr != nil {
			log.Warnf("[Webhook] archive failed for %s event %s: %v", provider, stored.ProviderEventID, aerr)
		}
	}
	return result, nil
}

// ReplayWebhookEvent processes a stored delivery again. Only deliveries
// that passed signature verification can be replayed.
func (s *Service) ReplayWebhookEvent(ctx context.Context, id uint) (*WebhookResult, error) {
	stored, err := s.repo.GetWebhookEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !stored.SignatureValid {
		return nil, ErrInvalidSignature
	}
	mapper, err := MapperFor(stored.Provider)
	if err != nil {
		return nil, err
	}
	ev, err := mapper.Map([]byte(stored.PayloadJSON))
	if err != nil {
		_ = s.MarkWebhookProcessed(ctx, stored.ID, "", err)
		return nil, err
	}

	ingested, err := s.Ingest(ctx, ev)
	if err != nil && !errors.Is(err, ErrUnresolvableReference) {
		_ = s.MarkWebhookProcessed(ctx, stored.ID, "", err)
		return nil, err
	}
	_ = s.MarkWebhookProcessed(ctx, stored.ID, ingested.Outcome, err)
	log.Infof("[Webhook] replayed %s event %s: %s", stored.Provider, stored.ProviderEventID, ingested.Outcome)

	return &WebhookResult{
		EventID:   stored.ID,
		Outcome:   ingested.Outcome,
		InvoiceID: ingested.InvoiceID,
		PaymentID: ingested.PaymentID,
	}, nil
}
