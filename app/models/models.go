package models

// All lists every entity for AutoMigrate, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Member{},
		&Invoice{},
		&Payment{},
		&SettlementRecord{},
		&DebtAdjustment{},
		&BillingWebhookEvent{},
		&ReviewItem{},
	}
}
