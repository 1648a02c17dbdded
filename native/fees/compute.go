package fees

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	marketerr "luxmarket/core/errors"
	nativecommon "luxmarket/native/common"
)

// ErrAmountOverflow is returned when an amount does not fit 256 bits.
var ErrAmountOverflow = errors.New("fees: amount overflows 256 bits")

var basisPoints = uint256.NewInt(BasisPoints)

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, marketerr.Validation(ErrInvalidAmount, "%s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, marketerr.Validation(ErrAmountOverflow, "%s", v)
	}
	return out, nil
}

// mulDiv returns floor(x*y/d); a zero divisor yields zero.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return new(uint256.Int), nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, marketerr.Validation(ErrAmountOverflow, "%s*%s/%s", x.Dec(), y.Dec(), d.Dec())
	}
	return out, nil
}

// ComputeServiceFee returns the flat fee for op and, for fiat payments, the
// surcharge flat*fiatBps/10000.
func (e *Engine) ComputeServiceFee(op nativecommon.Operation, isFiat bool) (ServiceFee, error) {
	if !op.Valid() {
		return ServiceFee{}, marketerr.Validation(ErrUnknownOperation, "%d", uint8(op))
	}
	flat, err := e.ServiceFeeFlat(op)
	if err != nil {
		return ServiceFee{}, err
	}
	fee := ServiceFee{Operation: op, Flat: flat, FiatSurcharge: big.NewInt(0)}
	if !isFiat || flat.Sign() == 0 {
		return fee, nil
	}
	bps, err := e.FiatFeePercentage()
	if err != nil {
		return ServiceFee{}, err
	}
	flat256, err := toUint256(flat)
	if err != nil {
		return ServiceFee{}, err
	}
	surcharge, err := mulDiv(flat256, uint256.NewInt(uint64(bps)), basisPoints)
	if err != nil {
		return ServiceFee{}, err
	}
	fee.FiatSurcharge = surcharge.ToBig()
	return fee, nil
}

// ComputeTransactionFees splits amount by the seller and buyer membership
// percentages and snapshots the named fee registry.
func (e *Engine) ComputeTransactionFees(amount *big.Int, sellerBps, buyerBps uint32) (TransactionFees, error) {
	if sellerBps > BasisPoints || buyerBps > BasisPoints {
		return TransactionFees{}, marketerr.Validation(ErrInvalidBps, "seller=%d buyer=%d", sellerBps, buyerBps)
	}
	amt, err := toUint256(amount)
	if err != nil {
		return TransactionFees{}, err
	}
	sellerFee, err := mulDiv(amt, uint256.NewInt(uint64(sellerBps)), basisPoints)
	if err != nil {
		return TransactionFees{}, err
	}
	buyerFee, err := mulDiv(amt, uint256.NewInt(uint64(buyerBps)), basisPoints)
	if err != nil {
		return TransactionFees{}, err
	}
	registry, err := e.Fees()
	if err != nil {
		return TransactionFees{}, err
	}
	return TransactionFees{
		Amount:    amt.ToBig(),
		SellerBps: sellerBps,
		BuyerBps:  buyerBps,
		SellerFee: sellerFee.ToBig(),
		BuyerFee:  buyerFee.ToBig(),
		Fees:      cloneFees(registry),
	}, nil
}

// MembershipRates resolves the seller-side and buyer-side percentages of the
// two parties with a single tier lookup.
func (e *Engine) MembershipRates(lookup MembershipLookup, seller, buyer common.Address) (uint32, uint32, error) {
	var sellerTier, buyerTier uint64
	if lookup != nil {
		tiers, err := lookup.GetMembershipTiers([]common.Address{seller, buyer})
		if err != nil {
			return 0, 0, marketerr.External(err, "membership tiers")
		}
		if len(tiers) != 2 {
			return 0, 0, marketerr.External(errors.New("fees: membership lookup returned wrong tier count"), "%d", len(tiers))
		}
		sellerTier, buyerTier = tiers[0], tiers[1]
	}
	sellerBps, err := e.MembershipFeePercentage(sellerTier, false)
	if err != nil {
		return 0, 0, err
	}
	buyerBps, err := e.MembershipFeePercentage(buyerTier, true)
	if err != nil {
		return 0, 0, err
	}
	return sellerBps, buyerBps, nil
}

// SplitPool distributes pool across fees in proportion to each fee's share of
// the registered total. Each share is floored; the remainder stays with the
// payer. A registry with zero total distributes nothing.
func SplitPool(pool *big.Int, fees []Fee) ([]Payout, error) {
	pool256, err := toUint256(pool)
	if err != nil {
		return nil, err
	}
	total := uint256.NewInt(sumBps(fees))
	payouts := make([]Payout, 0, len(fees))
	for _, fee := range fees {
		share, err := mulDiv(pool256, uint256.NewInt(uint64(fee.PercentageBps)), total)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, Payout{Name: fee.Name, Wallet: fee.Wallet, Amount: share.ToBig()})
	}
	return payouts, nil
}
