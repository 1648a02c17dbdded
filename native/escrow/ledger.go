package escrow

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/events"
	nativecommon "luxmarket/native/common"
)

var (
	errNilState    = errors.New("escrow: state not configured")
	errNilLocator  = errors.New("escrow: locator not configured")
	errNilSchedule = errors.New("escrow: schedule not configured")

	ErrSaleNotFound     = errors.New("escrow: sale not found")
	ErrSaleNotActive    = errors.New("escrow: sale not active")
	ErrOutsideWindow    = errors.New("escrow: sale outside its active window")
	ErrNotSeller        = errors.New("escrow: caller is not the seller")
	ErrNotWhitelisted   = errors.New("escrow: address not whitelisted")
	ErrNotCustodian     = errors.New("escrow: seller does not hold the asset")
	ErrZeroPrice        = errors.New("escrow: price must be positive")
	ErrUnknownDuration  = errors.New("escrow: duration not configured")
	ErrNotExpired       = errors.New("escrow: sale has not expired")
	ErrStartNotInFuture = errors.New("escrow: next start is not in the future")
)

var (
	nextIDKey          = []byte("escrow/next-id")
	salePrefix         = []byte("escrow/sale/")
	bySellerPrefix     = []byte("escrow/by-seller/")
	byCollectionPrefix = []byte("escrow/by-collection/")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVKeys(prefix []byte) ([][]byte, error)
}

// Ledger is the sale lifecycle state machine. It keeps custody of listed
// assets at its own address and delegates pricing and fund movement to the
// payment engine resolved through the locator.
type Ledger struct {
	state     ledgerState
	locator   Locator
	schedule  ScheduleSource
	custodian common.Address
	policy    WithdrawPolicy
	emitter   events.Emitter
	nowFn     func() int64
	guard     nativecommon.ReentrancyGuard
}

// NewLedger creates a ledger with a no-op emitter and the wall clock.
func NewLedger() *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetLocator configures the collaborator locator.
func (l *Ledger) SetLocator(locator Locator) { l.locator = locator }

// SetSchedule configures the source of listing dates and durations.
func (l *Ledger) SetSchedule(schedule ScheduleSource) { l.schedule = schedule }

// SetCustodian configures the address holding escrowed assets.
func (l *Ledger) SetCustodian(addr common.Address) { l.custodian = addr }

// Custodian returns the escrow address.
func (l *Ledger) Custodian() common.Address { return l.custodian }

// SetWithdrawPolicy selects whether expired sales may be withdrawn.
func (l *Ledger) SetWithdrawPolicy(policy WithdrawPolicy) { l.policy = policy }

// SetNowFunc overrides the time source used by the ledger. Primarily intended
// for tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(evt)
}

func (l *Ledger) now() uint64 {
	if l == nil || l.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := l.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.schedule == nil {
		return errNilSchedule
	}
	return nil
}

func idBytes(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func saleKey(id uint64) []byte {
	return append(append([]byte(nil), salePrefix...), idBytes(id)...)
}

func sellerIndexPrefix(seller common.Address) []byte {
	key := append([]byte(nil), bySellerPrefix...)
	key = append(key, seller.Bytes()...)
	return append(key, '/')
}

func collectionIndexPrefix(collection uint64) []byte {
	key := append([]byte(nil), byCollectionPrefix...)
	key = append(key, idBytes(collection)...)
	return append(key, '/')
}

func (l *Ledger) loadSale(id uint64) (*Sale, error) {
	sale := new(Sale)
	ok, err := l.state.KVGet(saleKey(id), sale)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, marketerr.State(ErrSaleNotFound, "sale %d", id)
	}
	return sale, nil
}

func (l *Ledger) loadActiveSale(id uint64) (*Sale, error) {
	sale, err := l.loadSale(id)
	if err != nil {
		return nil, err
	}
	if !sale.Active {
		return nil, marketerr.State(ErrSaleNotActive, "sale %d", id)
	}
	return sale, nil
}

func (l *Ledger) indexSale(sale *Sale) error {
	if err := l.state.KVPut(append(sellerIndexPrefix(sale.Seller), idBytes(sale.ID)...), true); err != nil {
		return err
	}
	return l.state.KVPut(append(collectionIndexPrefix(sale.Collection), idBytes(sale.ID)...), true)
}

func (l *Ledger) unindexSale(sale *Sale) error {
	if err := l.state.KVDelete(append(sellerIndexPrefix(sale.Seller), idBytes(sale.ID)...)); err != nil {
		return err
	}
	return l.state.KVDelete(append(collectionIndexPrefix(sale.Collection), idBytes(sale.ID)...))
}

func (l *Ledger) indexedIDs(prefix []byte) ([]uint64, error) {
	keys, err := l.state.KVKeys(prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(keys))
	for _, key := range keys {
		suffix := key[len(prefix):]
		if len(suffix) != 8 {
			continue
		}
		ids = append(ids, binary.BigEndian.Uint64(suffix))
	}
	return ids, nil
}

// GetSale returns the stored sale.
func (l *Ledger) GetSale(id uint64) (*Sale, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.loadSale(id)
}

// SalesBySeller lists the ids of open sales listed by seller.
func (l *Ledger) SalesBySeller(seller common.Address) ([]uint64, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.indexedIDs(sellerIndexPrefix(seller))
}

// SalesByCollection lists the ids of open sales in a collection.
func (l *Ledger) SalesByCollection(collection uint64) ([]uint64, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.indexedIDs(collectionIndexPrefix(collection))
}

// NextSaleID returns the id the next listing will receive. Ids start at 1
// and are never reused.
func (l *Ledger) NextSaleID() (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	var next uint64
	if _, err := l.state.KVGet(nextIDKey, &next); err != nil {
		return 0, err
	}
	if next == 0 {
		next = 1
	}
	return next, nil
}

func requireWhitelisted(list WhitelistService, addr common.Address) error {
	if list == nil {
		return marketerr.Authorization(ErrNotWhitelisted, "%s", addr.Hex())
	}
	ok, err := list.IsWhitelisted(addr)
	if err != nil {
		return marketerr.External(err, "whitelist lookup")
	}
	if !ok {
		return marketerr.Authorization(ErrNotWhitelisted, "%s", addr.Hex())
	}
	return nil
}

// enter acquires the reentrancy guard shared by the four trading operations.
func (l *Ledger) enter() (func(), error) {
	release, err := l.guard.Enter()
	if err != nil {
		return nil, marketerr.State(err, "")
	}
	return release, nil
}
