package indexer

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"luxmarket/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("indexer: unknown database driver")

// Indexer projects committed marketplace events into SQL tables. It is an
// events.Emitter so it can be attached to the node next to other sinks.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the index schema.
func Open(driver, dsn string, logger *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db, logger)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged; the node has already
// committed the event.
func (ix *Indexer) Emit(evt events.Event) {
	if ix == nil || evt == nil {
		return
	}
	if err := ix.Record(context.Background(), evt); err != nil {
		ix.logger.Error("index event failed",
			slog.String("type", evt.EventType()),
			slog.String("error", err.Error()))
	}
}

// Record persists a single event. Unknown event types are ignored.
func (ix *Indexer) Record(ctx context.Context, evt events.Event) error {
	switch e := evt.(type) {
	case events.SaleEvent:
		return ix.recordSale(ctx, e)
	case *events.SaleEvent:
		if e == nil {
			return nil
		}
		return ix.recordSale(ctx, *e)
	case events.FeeRegistryChanged:
		return ix.recordFeeChange(ctx, e)
	case *events.FeeRegistryChanged:
		if e == nil {
			return nil
		}
		return ix.recordFeeChange(ctx, *e)
	default:
		return nil
	}
}

func (ix *Indexer) recordSale(ctx context.Context, e events.SaleEvent) error {
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activity := Activity{
			ID:            uuid.New(),
			Digest:        saleDigest(e),
			Type:          e.Type,
			SaleID:        e.SaleID,
			Actor:         actorOf(e),
			ServiceFee:    amountString(e.ServiceFee),
			FiatSurcharge: amountString(e.FiatSurcharge),
			SellerFee:     amountString(e.SellerFee),
			BuyerFee:      amountString(e.BuyerFee),
			PayeeAmount:   amountString(e.PayeeAmount),
			BlockTime:     e.Timestamp,
		}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "digest"}}, DoNothing: true}).Create(&activity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		for _, p := range e.Payouts {
			payout := Payout{
				ID:         uuid.New(),
				ActivityID: activity.ID,
				SaleID:     e.SaleID,
				Name:       p.Name,
				Wallet:     p.Wallet.Hex(),
				Amount:     amountString(p.Amount),
			}
			if err := tx.Create(&payout).Error; err != nil {
				return err
			}
		}
		return applySale(tx, e)
	})
}

func applySale(tx *gorm.DB, e events.SaleEvent) error {
	switch e.Type {
	case events.TypeSaleListed:
		sale := Sale{
			SaleID:       e.SaleID,
			WrapperID:    e.WrapperID,
			Collection:   e.Collection,
			Seller:       e.Seller.Hex(),
			Price:        amountString(e.Price),
			PaymentToken: e.PaymentToken.Hex(),
			Fiat:         e.Fiat,
			StartsAt:     e.Start,
			EndsAt:       e.End,
			Status:       StatusListed,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&sale).Error
	case events.TypeSaleBought:
		return tx.Model(&Sale{}).Where("sale_id = ?", e.SaleID).Updates(map[string]interface{}{
			"buyer":         e.Buyer.Hex(),
			"payment_token": e.PaymentToken.Hex(),
			"fiat":          e.Fiat,
			"status":        StatusSold,
		}).Error
	case events.TypeSaleWithdrawn:
		return tx.Model(&Sale{}).Where("sale_id = ?", e.SaleID).Update("status", StatusWithdrawn).Error
	case events.TypeSaleRenewed:
		return tx.Model(&Sale{}).Where("sale_id = ?", e.SaleID).Updates(map[string]interface{}{
			"starts_at": e.Start,
			"ends_at":   e.End,
			"renewals":  gorm.Expr("renewals + ?", 1),
		}).Error
	default:
		return nil
	}
}

func (ix *Indexer) recordFeeChange(ctx context.Context, e events.FeeRegistryChanged) error {
	change := FeeChange{
		ID:            uuid.New(),
		Action:        e.Action,
		Name:          e.Name,
		PercentageBps: e.PercentageBps,
	}
	if e.Action != "removed" {
		change.Wallet = e.Wallet.Hex()
	}
	return ix.db.WithContext(ctx).Create(&change).Error
}

// Sale returns the projection of a sale.
func (ix *Indexer) Sale(ctx context.Context, saleID uint64) (*Sale, error) {
	var sale Sale
	if err := ix.db.WithContext(ctx).First(&sale, "sale_id = ?", saleID).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

// SalesBySeller lists every indexed sale of seller, newest first.
func (ix *Indexer) SalesBySeller(ctx context.Context, seller string) ([]Sale, error) {
	var sales []Sale
	err := ix.db.WithContext(ctx).Where("seller = ?", seller).Order("sale_id desc").Find(&sales).Error
	return sales, err
}

// Activity returns the indexed events of a sale in insertion order.
func (ix *Indexer) Activity(ctx context.Context, saleID uint64) ([]Activity, error) {
	var out []Activity
	err := ix.db.WithContext(ctx).Preload("Payouts").Where("sale_id = ?", saleID).Order("block_time asc, created_at asc").Find(&out).Error
	return out, err
}

// FeeVolume sums every payout made to the named fee.
func (ix *Indexer) FeeVolume(ctx context.Context, name string) (*big.Int, error) {
	var amounts []string
	if err := ix.db.WithContext(ctx).Model(&Payout{}).Where("name = ?", name).Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, raw := range amounts {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("indexer: corrupt payout amount %q", raw)
		}
		total.Add(total, v)
	}
	return total, nil
}

// FeeChanges lists the recorded registry changes for name.
func (ix *Indexer) FeeChanges(ctx context.Context, name string) ([]FeeChange, error) {
	var out []FeeChange
	err := ix.db.WithContext(ctx).Where("name = ?", name).Order("created_at asc").Find(&out).Error
	return out, err
}

func actorOf(e events.SaleEvent) string {
	if e.Buyer != (common.Address{}) {
		return e.Buyer.Hex()
	}
	return e.Seller.Hex()
}

// saleDigest identifies an event independent of delivery so duplicates
// collapse onto one row.
func saleDigest(e events.SaleEvent) string {
	h := blake3.New(32, nil)
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	_, _ = h.Write([]byte(e.Type))
	writeUint(e.SaleID)
	writeUint(e.Start)
	writeUint(e.End)
	writeUint(e.Timestamp)
	_, _ = h.Write(e.Seller.Bytes())
	_, _ = h.Write(e.Buyer.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
