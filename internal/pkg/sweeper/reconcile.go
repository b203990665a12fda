package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
)

// ReconcileSweeper settles invoices whose payment was completed without
// going through the settlement engine.
type ReconcileSweeper struct {
	store     Store
	settler   Settler
	batchSize int
	retry     settlement.RetryPolicy
}

func NewReconcileSweeper(store Store, settler Settler, batchSize int) *ReconcileSweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ReconcileSweeper{
		store:     store,
		settler:   settler,
		batchSize: batchSize,
		retry:     settlement.DefaultRetryPolicy,
	}
}

// SetRetryPolicy overrides the per-payment retry policy.
func (s *ReconcileSweeper) SetRetryPolicy(p settlement.RetryPolicy) {
	s.retry = p
}

func (s *ReconcileSweeper) Name() string { return KindReconcile }

func (s *ReconcileSweeper) Run(ctx context.Context) (rep Report, err error) {
	started := time.Now().UTC()
	rep = Report{Kind: KindReconcile, StartedAt: started}
	defer func() { rep.Duration = time.Since(started) }()

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			rep.Error = err.Error()
			return rep, err
		}
		batch, err := s.store.ListUnsettledCompleted(ctx, cursor, s.batchSize)
		if err != nil {
			rep.Error = err.Error()
			return rep, err
		}
		for i := range batch {
			p := &batch[i]
			cursor = p.ID
			rep.Scanned++
			s.reconcileOne(ctx, p, &rep)
		}
		if len(batch) < s.batchSize {
			break
		}
	}

	if rep.Scanned == 0 {
		log.Debug("[ReconcileSweeper] heartbeat: no unsettled payments")
		return rep, nil
	}
	log.Infof("[ReconcileSweeper] scanned %d, settled %d, already settled %d, unresolved %d, failed %d",
		rep.Scanned, rep.Transitioned, rep.AlreadySettled, rep.Unresolved, rep.Failed)
	return rep, nil
}

func (s *ReconcileSweeper) reconcileOne(ctx context.Context, p *models.Payment, rep *Report) {
	var res *settlement.Result
	err := settlement.Retry(ctx, s.retry, func(ctx context.Context) error {
		r, err := s.settler.SettlePayment(ctx, p.InvoiceID, p)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if errors.Is(err, settlement.ErrInvoiceNotFound) {
			rep.Unresolved++
		} else {
			rep.Failed++
		}
		log.Errorf("[ReconcileSweeper] payment %s for invoice %s: %v", p.ID, p.InvoiceID, err)
		return
	}

	switch res.Outcome {
	case settlement.OutcomeSettled:
		rep.Transitioned++
		log.Warnf("[ReconcileSweeper] converged invoice %s from payment %s completed outside settlement", p.InvoiceID, p.ID)
	case settlement.OutcomeInvoiceAlreadyPaid:
		rep.AlreadySettled++
	default:
		rep.AlreadySettled++
		s.checkStuck(ctx, p, rep)
	}
}

// checkStuck flags a payment whose ledger entry exists while its invoice
// is still open. Settling it again cannot help, an operator has to look.
func (s *ReconcileSweeper) checkStuck(ctx context.Context, p *models.Payment, rep *Report) {
	status, err := s.store.InvoiceStatus(ctx, p.InvoiceID)
	if err != nil || status == models.InvoiceStatusPaid {
		return
	}
	provider, txn := p.IdempotencyKey()
	created, err := s.store.OpenReviewItem(ctx, &models.ReviewItem{
		Kind:      models.ReviewKindStuckSettlement,
		Reference: p.ID,
		Provider:  p.Provider,
		InvoiceID: p.InvoiceID,
		PaymentID: p.ID,
		Detail:    fmt.Sprintf("%s transaction %s is in the ledger but invoice is %s", provider, txn, status),
	})
	if err != nil {
		log.Errorf("[ReconcileSweeper] failed to queue stuck payment %s: %v", p.ID, err)
		return
	}
	rep.Unresolved++
	if created {
		log.Warnf("[ReconcileSweeper] payment %s stuck: ledger has %s/%s, invoice %s is %s", p.ID, provider, txn, p.InvoiceID, status)
	}
}
