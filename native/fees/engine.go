package fees

import (
	"errors"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	nativecommon "luxmarket/native/common"
)

var (
	errNilState = errors.New("fees: state not configured")

	ErrFeeExists         = errors.New("fees: fee already registered")
	ErrFeeNotFound       = errors.New("fees: fee not found")
	ErrFeeNameRequired   = errors.New("fees: fee name required")
	ErrZeroWallet        = errors.New("fees: payout wallet required")
	ErrInvalidBps        = errors.New("fees: percentage exceeds 10000 bps")
	ErrTotalExceeded     = errors.New("fees: total percentage exceeds 10000 bps")
	ErrTreasuryProtected = errors.New("fees: treasury fee cannot be removed")
	ErrInvalidTier       = errors.New("fees: membership tier out of range")
	ErrInvalidAmount     = errors.New("fees: invalid amount")
	ErrUnknownOperation  = errors.New("fees: unknown operation")
)

var (
	feeCountKey      = []byte("fees/count")
	feeSlotPrefix    = []byte("fees/slot/")
	feeIndexPrefix   = []byte("fees/index/")
	fiatBpsKey       = []byte("fees/fiat-bps")
	servicePrefix    = []byte("fees/service/")
	membershipPrefix = []byte("fees/membership/")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// TokenLedger moves payment tokens. The engine pulls funds from the payer as
// an approved spender.
type TokenLedger interface {
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

// PaymentRoles exposes the roles registry lookups the engine depends on.
type PaymentRoles interface {
	HasPaymentRole(token common.Address) (bool, error)
	GetDefaultFiatPayment() (common.Address, error)
	GetRoleAddress(name string) (common.Address, error)
}

// MembershipLookup resolves membership tiers in a single batched call.
type MembershipLookup interface {
	GetMembershipTiers(addrs []common.Address) ([]uint64, error)
}

// Engine owns the named fee registry, the service and membership fee tables
// and executes the token transfers realising a fee split.
type Engine struct {
	state   engineState
	tokens  TokenLedger
	roles   PaymentRoles
	spender common.Address
}

// NewEngine creates an unconfigured engine. Callers wire the collaborators via
// the setters before use.
func NewEngine() *Engine {
	return &Engine{}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens configures the token ledger used to move funds.
func (e *Engine) SetTokens(tokens TokenLedger) { e.tokens = tokens }

// SetRoles configures the roles registry used for payment token checks.
func (e *Engine) SetRoles(roles PaymentRoles) { e.roles = roles }

// SetSpender configures the address the engine acts as when pulling funds.
func (e *Engine) SetSpender(addr common.Address) { e.spender = addr }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func slotKey(index uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), feeSlotPrefix...), index, 10)
}

func indexKey(name string) []byte {
	return append(append([]byte(nil), feeIndexPrefix...), name...)
}

func (e *Engine) feeCount() (uint64, error) {
	var count uint64
	if _, err := e.state.KVGet(feeCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// lookup returns the registry slot holding name. An absent index entry means
// the fee does not exist.
func (e *Engine) lookup(name string) (uint64, bool, error) {
	var index uint64
	ok, err := e.state.KVGet(indexKey(name), &index)
	if err != nil || !ok {
		return 0, false, err
	}
	return index, true, nil
}

func (e *Engine) slot(index uint64) (Fee, error) {
	var fee Fee
	ok, err := e.state.KVGet(slotKey(index), &fee)
	if err != nil {
		return Fee{}, err
	}
	if !ok {
		return Fee{}, errors.New("fees: registry slot missing")
	}
	return fee, nil
}

// Fees returns the registry in slot order.
func (e *Engine) Fees() ([]Fee, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	count, err := e.feeCount()
	if err != nil {
		return nil, err
	}
	out := make([]Fee, 0, count)
	for i := uint64(0); i < count; i++ {
		fee, err := e.slot(i)
		if err != nil {
			return nil, err
		}
		out = append(out, fee)
	}
	return out, nil
}

// Fee returns the named fee.
func (e *Engine) Fee(name string) (Fee, bool, error) {
	if err := e.ready(); err != nil {
		return Fee{}, false, err
	}
	index, ok, err := e.lookup(normalizeName(name))
	if err != nil || !ok {
		return Fee{}, false, err
	}
	fee, err := e.slot(index)
	if err != nil {
		return Fee{}, false, err
	}
	return fee, true, nil
}

// TotalBps sums the percentage of every registered fee.
func (e *Engine) TotalBps() (uint64, error) {
	fees, err := e.Fees()
	if err != nil {
		return 0, err
	}
	return sumBps(fees), nil
}

func sumBps(fees []Fee) uint64 {
	var total uint64
	for _, fee := range fees {
		total += uint64(fee.PercentageBps)
	}
	return total
}

func validateFee(name string, bps uint32, wallet common.Address) error {
	if name == "" {
		return marketerr.Validation(ErrFeeNameRequired, "")
	}
	if wallet == (common.Address{}) {
		return marketerr.Validation(ErrZeroWallet, "%s", name)
	}
	if bps > BasisPoints {
		return marketerr.Validation(ErrInvalidBps, "%d", bps)
	}
	return nil
}

// AddFee appends a named fee to the registry.
func (e *Engine) AddFee(name string, bps uint32, wallet common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	name = normalizeName(name)
	if err := validateFee(name, bps, wallet); err != nil {
		return err
	}
	if _, exists, err := e.lookup(name); err != nil {
		return err
	} else if exists {
		return marketerr.Validation(ErrFeeExists, "%s", name)
	}
	total, err := e.TotalBps()
	if err != nil {
		return err
	}
	if total+uint64(bps) > BasisPoints {
		return marketerr.Validation(ErrTotalExceeded, "%d", total+uint64(bps))
	}
	count, err := e.feeCount()
	if err != nil {
		return err
	}
	if err := e.state.KVPut(slotKey(count), &Fee{Name: name, PercentageBps: bps, Wallet: wallet}); err != nil {
		return err
	}
	if err := e.state.KVPut(indexKey(name), count); err != nil {
		return err
	}
	return e.state.KVPut(feeCountKey, count+1)
}

// UpdateFee replaces the percentage and wallet of an existing fee.
func (e *Engine) UpdateFee(name string, bps uint32, wallet common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	name = normalizeName(name)
	if err := validateFee(name, bps, wallet); err != nil {
		return err
	}
	index, ok, err := e.lookup(name)
	if err != nil {
		return err
	}
	if !ok {
		return marketerr.Validation(ErrFeeNotFound, "%s", name)
	}
	current, err := e.slot(index)
	if err != nil {
		return err
	}
	total, err := e.TotalBps()
	if err != nil {
		return err
	}
	total = total - uint64(current.PercentageBps) + uint64(bps)
	if total > BasisPoints {
		return marketerr.Validation(ErrTotalExceeded, "%d", total)
	}
	return e.state.KVPut(slotKey(index), &Fee{Name: name, PercentageBps: bps, Wallet: wallet})
}

// RemoveFee deletes a fee by moving the last slot into its place.
func (e *Engine) RemoveFee(name string) error {
	if err := e.ready(); err != nil {
		return err
	}
	name = normalizeName(name)
	if name == TreasuryFeeName {
		return marketerr.Validation(ErrTreasuryProtected, "%s", name)
	}
	index, ok, err := e.lookup(name)
	if err != nil {
		return err
	}
	if !ok {
		return marketerr.Validation(ErrFeeNotFound, "%s", name)
	}
	count, err := e.feeCount()
	if err != nil {
		return err
	}
	last := count - 1
	if index != last {
		moved, err := e.slot(last)
		if err != nil {
			return err
		}
		if err := e.state.KVPut(slotKey(index), &moved); err != nil {
			return err
		}
		if err := e.state.KVPut(indexKey(moved.Name), index); err != nil {
			return err
		}
	}
	if err := e.state.KVDelete(slotKey(last)); err != nil {
		return err
	}
	if err := e.state.KVDelete(indexKey(name)); err != nil {
		return err
	}
	return e.state.KVPut(feeCountKey, last)
}

// SetFiatFeePercentage sets the surcharge applied to service fees of fiat
// payments.
func (e *Engine) SetFiatFeePercentage(bps uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	if bps > BasisPoints {
		return marketerr.Validation(ErrInvalidBps, "%d", bps)
	}
	return e.state.KVPut(fiatBpsKey, bps)
}

func (e *Engine) FiatFeePercentage() (uint32, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var bps uint32
	if _, err := e.state.KVGet(fiatBpsKey, &bps); err != nil {
		return 0, err
	}
	return bps, nil
}

func serviceKey(op nativecommon.Operation) []byte {
	return strconv.AppendUint(append([]byte(nil), servicePrefix...), uint64(op), 10)
}

// SetServiceFee sets the flat fee charged for op.
func (e *Engine) SetServiceFee(op nativecommon.Operation, flat *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !op.Valid() {
		return marketerr.Validation(ErrUnknownOperation, "%d", uint8(op))
	}
	if flat == nil || flat.Sign() < 0 {
		return marketerr.Validation(ErrInvalidAmount, "service fee %v", flat)
	}
	return e.state.KVPut(serviceKey(op), new(big.Int).Set(flat))
}

// ServiceFeeFlat returns the flat fee configured for op.
func (e *Engine) ServiceFeeFlat(op nativecommon.Operation) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	flat := new(big.Int)
	ok, err := e.state.KVGet(serviceKey(op), flat)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return flat, nil
}

func membershipKey(tier uint64, buyerSide bool) []byte {
	if buyerSide {
		tier += BuyerTierOffset
	}
	return strconv.AppendUint(append([]byte(nil), membershipPrefix...), tier, 10)
}

// SetMembershipFeePercentage sets the seller-side or buyer-side percentage of
// a membership tier. Buyer-side rows live at tier+100.
func (e *Engine) SetMembershipFeePercentage(tier uint64, buyerSide bool, bps uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	if tier >= BuyerTierOffset {
		return marketerr.Validation(ErrInvalidTier, "%d", tier)
	}
	if bps > BasisPoints {
		return marketerr.Validation(ErrInvalidBps, "%d", bps)
	}
	return e.state.KVPut(membershipKey(tier, buyerSide), bps)
}

// MembershipFeePercentage returns the configured percentage, zero when unset.
func (e *Engine) MembershipFeePercentage(tier uint64, buyerSide bool) (uint32, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if tier >= BuyerTierOffset {
		return 0, nil
	}
	var bps uint32
	if _, err := e.state.KVGet(membershipKey(tier, buyerSide), &bps); err != nil {
		return 0, err
	}
	return bps, nil
}
