package billing

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// Mapper turns a provider payload into a canonical PaymentEvent. Mappers
// are pure: they never touch the store.
type Mapper interface {
	Provider() string
	Map(payload []byte) (*PaymentEvent, error)
}

var mappers = map[string]Mapper{
	models.PaymentProviderPayPal:       PayPalMapper{},
	models.PaymentProviderMercadoPago:  MercadoPagoMapper{},
	models.PaymentProviderBankTransfer: BankTransferMapper{},
}

// MapperFor returns the mapper of a webhook provider. Manual settlements do
// not arrive as webhooks and have no mapper.
func MapperFor(provider string) (Mapper, error) {
	m, ok := mappers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return m, nil
}

// WebhookProviders lists the providers accepted on the webhook endpoint.
func WebhookProviders() []string {
	return []string{
		models.PaymentProviderPayPal,
		models.PaymentProviderMercadoPago,
		models.PaymentProviderBankTransfer,
	}
}

func invalidPayload(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
