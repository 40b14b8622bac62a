package repository

import "database/sql"

// Ledger combines the usage and cost tables behind one value.
type Ledger struct {
	*UsageRepository
	*CostRepository
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{
		UsageRepository: NewUsageRepository(db),
		CostRepository:  NewCostRepository(db),
	}
}
