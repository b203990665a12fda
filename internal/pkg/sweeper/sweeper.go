package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
)

const (
	KindOverdue   = "overdue"
	KindReconcile = "reconcile"
)

const DefaultBatchSize = 500

var (
	ErrUnknownSweep = errors.New("unknown sweep")
	ErrSweepBusy    = errors.New("sweep already running")
)

// Sweep is one periodic scan-and-correct pass.
type Sweep interface {
	Name() string
	Run(ctx context.Context) (Report, error)
}

// Settler applies a completed payment to its invoice.
type Settler interface {
	SettlePayment(ctx context.Context, invoiceID string, payment *models.Payment) (*settlement.Result, error)
}

// Report summarizes one pass. Item failures are counted, never returned.
type Report struct {
	Kind           string        `json:"kind"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Scanned        int           `json:"scanned"`
	Transitioned   int           `json:"transitioned"`
	AlreadySettled int           `json:"already_settled"`
	Unresolved     int           `json:"unresolved"`
	Failed         int           `json:"failed"`
	Error          string        `json:"error,omitempty"`
}
