package settlement

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const mysqlErrDuplicateEntry = 1062

var (
	// ErrInvoiceNotFound is a data-integrity failure upstream. It is logged,
	// queued for review and never retried automatically.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrPaymentNotCompleted means SettlePayment was called with a payment
	// that has not reached the completed state.
	ErrPaymentNotCompleted = errors.New("payment is not completed")
	ErrInvalidPayment      = errors.New("invalid payment")
	ErrMemberNotFound      = errors.New("member not found")
	ErrInvoiceExists       = errors.New("invoice already exists for member and period")
	ErrInvalidInvoice      = errors.New("invalid invoice")
)

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
