package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceSample is one archived ticker observation.
type PriceSample struct {
	InstID     string
	ObservedAt time.Time
	Price      decimal.Decimal
	CreatedAt  time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID            uuid.UUID
	InstID        string
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	CurrentPrice  decimal.Decimal
	BaselinePrice decimal.Decimal
	TriggeredAt   time.Time
	CreatedAt     time.Time
}
