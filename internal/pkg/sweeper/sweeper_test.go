package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/testutil"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	db     *gorm.DB
	engine *settlement.Engine
	store  Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	return &fixture{
		db:     db,
		engine: settlement.NewEngineFromDB(db, events.NopEmitter{}),
		store:  NewStore(db),
	}
}

func (f *fixture) issue(t *testing.T, id string, amount int64, due time.Time) {
	t.Helper()
	_, err := f.engine.IssueInvoice(context.Background(), settlement.IssueInvoiceInput{
		InvoiceID: id,
		MemberID:  "M-1",
		Period:    "2026-" + id,
		Amount:    decimal.NewFromInt(amount),
		DueDate:   due,
	})
	require.NoError(t, err)
}

func (f *fixture) status(t *testing.T, id string) string {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return inv.Status
}

func (f *fixture) debt(t *testing.T) decimal.Decimal {
	t.Helper()
	var m models.Member
	require.NoError(t, f.db.First(&m, "id = ?", "M-1").Error)
	return m.TotalDebt
}
