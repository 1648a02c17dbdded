package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SaleStatus mirrors the lifecycle of an escrowed sale.
type SaleStatus string

const (
	StatusListed    SaleStatus = "LISTED"
	StatusSold      SaleStatus = "SOLD"
	StatusWithdrawn SaleStatus = "WITHDRAWN"
)

// Sale is the latest projection of an escrow sale.
type Sale struct {
	SaleID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	WrapperID    uint64 `gorm:"index"`
	Collection   uint64 `gorm:"index"`
	Seller       string `gorm:"size:42;index"`
	Buyer        string `gorm:"size:42"`
	Price        string `gorm:"size:78"`
	PaymentToken string `gorm:"size:42"`
	Fiat         bool
	StartsAt     uint64
	EndsAt       uint64
	Status       SaleStatus `gorm:"size:16;index"`
	Renewals     uint32
	UpdatedAt    time.Time
	CreatedAt    time.Time
}

// Activity is one indexed trading event. Digest is unique so a replayed
// event is stored once.
type Activity struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Digest        string    `gorm:"size:64;uniqueIndex"`
	Type          string    `gorm:"size:32;index"`
	SaleID        uint64    `gorm:"index"`
	Actor         string    `gorm:"size:42"`
	ServiceFee    string    `gorm:"size:78"`
	FiatSurcharge string    `gorm:"size:78"`
	SellerFee     string    `gorm:"size:78"`
	BuyerFee      string    `gorm:"size:78"`
	PayeeAmount   string    `gorm:"size:78"`
	BlockTime     uint64
	CreatedAt     time.Time
	Payouts       []Payout
}

// Payout is a fee transfer settled by an activity.
type Payout struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ActivityID uuid.UUID `gorm:"type:uuid;index"`
	SaleID     uint64    `gorm:"index"`
	Name       string    `gorm:"size:64;index"`
	Wallet     string    `gorm:"size:42;index"`
	Amount     string    `gorm:"size:78"`
	CreatedAt  time.Time
}

// FeeChange records an admin change to the named fee registry.
type FeeChange struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Action        string    `gorm:"size:16"`
	Name          string    `gorm:"size:64;index"`
	PercentageBps uint32
	Wallet        string `gorm:"size:42"`
	CreatedAt     time.Time
}

// AutoMigrate creates or updates the index tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Sale{}, &Activity{}, &Payout{}, &FeeChange{})
}
