package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "luxmarket/native/common"
)

var applied = okResult{OK: true}

// adminCall decodes params and resolves the authenticated admin.
func (s *Server) adminCall(r *http.Request, req *RPCRequest, params interface{}) (common.Address, error) {
	if err := s.ready(); err != nil {
		return common.Address{}, err
	}
	account, err := adminAccount(r)
	if err != nil {
		return common.Address{}, err
	}
	if params != nil {
		if err := decodeParams(req, params); err != nil {
			return common.Address{}, err
		}
	}
	return account, nil
}

type scheduleParam struct {
	ID        uint64 `json:"id"`
	DayOfWeek uint8  `json:"dayOfWeek"`
	Hour      uint8  `json:"hour"`
	Minute    uint8  `json:"minute"`
}

func (s *Server) handleAdminSetSchedule(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params scheduleParam
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	stored, err := s.node.SetSchedule(r.Context(), caller, params.ID, params.DayOfWeek, params.Hour, params.Minute)
	if err != nil {
		return nil, err
	}
	return okResult{OK: stored}, nil
}

func (s *Server) handleAdminSetSchedules(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Entries []scheduleParam `json:"entries"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(params.Entries))
	days := make([]uint8, 0, len(params.Entries))
	hours := make([]uint8, 0, len(params.Entries))
	minutes := make([]uint8, 0, len(params.Entries))
	for _, entry := range params.Entries {
		ids = append(ids, entry.ID)
		days = append(days, entry.DayOfWeek)
		hours = append(hours, entry.Hour)
		minutes = append(minutes, entry.Minute)
	}
	skipped, err := s.node.SetSchedules(r.Context(), caller, ids, days, hours, minutes)
	if err != nil {
		return nil, err
	}
	if skipped == nil {
		skipped = []int{}
	}
	return map[string]interface{}{"skipped": skipped}, nil
}

func (s *Server) handleAdminDeactivateSchedule(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		ID uint64 `json:"id"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if err := s.node.DeactivateSchedule(r.Context(), caller, params.ID); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetListingDelay(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Seconds uint64 `json:"seconds"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetListingDelay(r.Context(), caller, params.Seconds); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetDuration(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		ID      uint64 `json:"id"`
		Seconds uint64 `json:"seconds"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetDuration(r.Context(), caller, params.ID, params.Seconds); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminRemoveDuration(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		ID uint64 `json:"id"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if err := s.node.RemoveDuration(r.Context(), caller, params.ID); err != nil {
		return nil, err
	}
	return applied, nil
}

type feeParam struct {
	Name          string `json:"name"`
	PercentageBps uint32 `json:"percentageBps"`
	Wallet        string `json:"wallet"`
}

func (s *Server) handleAdminAddFee(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params feeParam
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	wallet, err := parseAddress("wallet", params.Wallet)
	if err != nil {
		return nil, err
	}
	if err := s.node.AddFee(r.Context(), caller, params.Name, params.PercentageBps, wallet); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminUpdateFee(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params feeParam
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	wallet, err := parseAddress("wallet", params.Wallet)
	if err != nil {
		return nil, err
	}
	if err := s.node.UpdateFee(r.Context(), caller, params.Name, params.PercentageBps, wallet); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminRemoveFee(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Name string `json:"name"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if err := s.node.RemoveFee(r.Context(), caller, params.Name); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetFiatFee(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		PercentageBps uint32 `json:"percentageBps"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetFiatFeePercentage(r.Context(), caller, params.PercentageBps); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetServiceFee(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Operation string `json:"operation"`
		Amount    string `json:"amount"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	op, err := nativecommon.ParseOperation(params.Operation)
	if err != nil {
		return nil, invalidParams("invalid operation", err)
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetServiceFee(r.Context(), caller, op, amount); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetMembershipFee(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Tier          uint64 `json:"tier"`
		BuyerSide     bool   `json:"buyerSide"`
		PercentageBps uint32 `json:"percentageBps"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetMembershipFeePercentage(r.Context(), caller, params.Tier, params.BuyerSide, params.PercentageBps); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetPaused(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	if params.Module == "" {
		params.Module = nativecommon.ModuleMarket
	}
	if err := s.node.SetPaused(r.Context(), caller, params.Module, params.Paused); err != nil {
		return nil, err
	}
	return applied, nil
}

type roleParam struct {
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) handleAdminGrantRole(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params roleParam
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.node.GrantRole(r.Context(), caller, params.Role, addr); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminRevokeRole(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params roleParam
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.node.RevokeRole(r.Context(), caller, params.Role, addr); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetRoleAddress(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetRoleAddress(r.Context(), caller, params.Name, addr); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetDefaultFiat(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Token string `json:"token"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", params.Token)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetDefaultFiatPayment(r.Context(), caller, token); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetWhitelisted(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Address string `json:"address"`
		Allowed bool   `json:"allowed"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetWhitelisted(r.Context(), caller, addr, params.Allowed); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *Server) handleAdminSetMembershipTier(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params struct {
		Address string `json:"address"`
		Tier    uint64 `json:"tier"`
	}
	caller, err := s.adminCall(r, req, &params)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.node.SetMembershipTier(r.Context(), caller, addr, params.Tier); err != nil {
		return nil, err
	}
	return applied, nil
}
