package common

import (
	"fmt"
	"strings"
)

// Operation identifies one of the trading entry points. The value selects the
// signed struct type, the service fee row and the emitted event.
type Operation uint8

const (
	OpList Operation = iota + 1
	OpBuy
	OpWithdraw
	OpRenew
)

// Operations lists every trading operation in declaration order.
var Operations = []Operation{OpList, OpBuy, OpWithdraw, OpRenew}

func (o Operation) String() string {
	switch o {
	case OpList:
		return "list"
	case OpBuy:
		return "buy"
	case OpWithdraw:
		return "withdraw"
	case OpRenew:
		return "renew"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// Valid reports whether the operation is one of the known trading operations.
func (o Operation) Valid() bool {
	return o >= OpList && o <= OpRenew
}

// ParseOperation resolves a case-insensitive operation name.
func ParseOperation(name string) (Operation, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, op := range Operations {
		if op.String() == normalized {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}
