package sweeper

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
)

// OverdueSweeper moves pending invoices past their due date to overdue and
// announces each transition once.
type OverdueSweeper struct {
	store     Store
	emitter   events.Emitter
	batchSize int
	now       func() time.Time
}

func NewOverdueSweeper(store Store, emitter events.Emitter, batchSize int) *OverdueSweeper {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &OverdueSweeper{
		store:     store,
		emitter:   emitter,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *OverdueSweeper) Name() string { return KindOverdue }

func (s *OverdueSweeper) Run(ctx context.Context) (rep Report, err error) {
	now := s.now()
	rep = Report{Kind: KindOverdue, StartedAt: now}
	defer func() { rep.Duration = time.Since(now) }()

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			rep.Error = err.Error()
			return rep, err
		}
		batch, err := s.store.ListDuePending(ctx, now, cursor, s.batchSize)
		if err != nil {
			rep.Error = err.Error()
			return rep, err
		}
		for _, inv := range batch {
			cursor = inv.ID
			rep.Scanned++

			moved, err := s.store.MarkOverdue(ctx, inv.ID, now)
			if err != nil {
				rep.Failed++
				log.Errorf("[OverdueSweeper] failed to mark invoice %s overdue: %v", inv.ID, err)
				continue
			}
			if !moved {
				continue
			}
			rep.Transitioned++
			s.emitter.Emit(events.InvoiceOverdue(inv.ID, inv.MemberID, inv.AmountDue, inv.DueDate))
		}
		if len(batch) < s.batchSize {
			break
		}
	}

	if rep.Transitioned > 0 || rep.Failed > 0 {
		log.Infof("[OverdueSweeper] %d invoice(s) overdue, %d failed", rep.Transitioned, rep.Failed)
	} else {
		log.Debug("[OverdueSweeper] nothing due")
	}
	return rep, nil
}
