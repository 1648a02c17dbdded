package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"luxmarket/core/types"
)

const (
	// TypeFeeRegistryChanged marks an admin change to the named fee registry.
	TypeFeeRegistryChanged = "fees.registry.changed"
)

// FeeRegistryChanged records an added, updated or removed named fee.
type FeeRegistryChanged struct {
	Action        string
	Name          string
	PercentageBps uint32
	Wallet        common.Address
}

// EventType satisfies the events.Event interface.
func (FeeRegistryChanged) EventType() string { return TypeFeeRegistryChanged }

// Event converts the structured payload into a broadcastable event.
func (e FeeRegistryChanged) Event() *types.Event {
	attrs := map[string]string{
		"action": e.Action,
		"name":   e.Name,
	}
	if e.Action != "removed" {
		attrs["percentageBps"] = strconv.FormatUint(uint64(e.PercentageBps), 10)
		attrs["wallet"] = e.Wallet.Hex()
	}
	return &types.Event{Type: TypeFeeRegistryChanged, Attributes: attrs}
}
