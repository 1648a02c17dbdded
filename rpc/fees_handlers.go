package rpc

import (
	"net/http"
)

func (s *Server) handleFeesList(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	registry, err := s.node.Fees()
	if err != nil {
		return nil, err
	}
	result := make([]FeeResult, 0, len(registry))
	for _, fee := range registry {
		result = append(result, FeeResult{Name: fee.Name, PercentageBps: fee.PercentageBps, Wallet: fee.Wallet.Hex()})
	}
	return result, nil
}
