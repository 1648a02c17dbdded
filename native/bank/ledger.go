package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNilState = errors.New("bank: state not configured")

	// ErrInsufficientBalance is returned when the debited account cannot
	// cover the transfer.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrInsufficientAllowance is returned when a spender exceeds the amount
	// the owner approved.
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("bank: invalid amount")
)

var (
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger keeps fungible token balances and spender allowances. Tokens are
// identified by their contract address; the zero address is not a token.
type Ledger struct {
	state ledgerState
}

// NewLedger binds a ledger to the supplied state backend.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func balanceKey(token, owner common.Address) []byte {
	key := append([]byte(nil), balancePrefix...)
	key = append(key, token.Bytes()...)
	key = append(key, '/')
	return append(key, owner.Bytes()...)
}

func allowanceKey(token, owner, spender common.Address) []byte {
	key := append([]byte(nil), allowancePrefix...)
	key = append(key, token.Bytes()...)
	key = append(key, '/')
	key = append(key, owner.Bytes()...)
	key = append(key, '/')
	return append(key, spender.Bytes()...)
}

func (l *Ledger) load(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	ok, err := l.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (l *Ledger) store(key []byte, value *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.KVPut(key, value)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BalanceOf returns the token balance held by owner.
func (l *Ledger) BalanceOf(token, owner common.Address) (*big.Int, error) {
	return l.load(balanceKey(token, owner))
}

// Allowance returns how much spender may still move out of owner's balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return l.load(allowanceKey(token, owner, spender))
}

// Mint credits amount to the recipient. It backs genesis funding only.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if token == (common.Address{}) || to == (common.Address{}) {
		return fmt.Errorf("bank: mint requires token and recipient")
	}
	balance, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	return l.store(balanceKey(token, to), balance.Add(balance, amount))
}

// Approve sets the allowance granted by owner to spender, replacing any
// previous value.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("bank: spender required")
	}
	return l.store(allowanceKey(token, owner, spender), new(big.Int).Set(amount))
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("bank: recipient required")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := l.BalanceOf(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	toBal, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	if err := l.store(balanceKey(token, from), fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.store(balanceKey(token, to), toBal.Add(toBal, amount))
}

// TransferFrom moves amount out of from's balance on behalf of spender,
// consuming the allowance from granted to spender.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if spender != from {
		allowance, err := l.Allowance(token, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s approved %s for %s, needs %s", ErrInsufficientAllowance, from.Hex(), allowance, spender.Hex(), amount)
		}
		if err := l.store(allowanceKey(token, from, spender), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return l.Transfer(token, from, to, amount)
}
