package rpc

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
)

func (s *Server) handleGetSale(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		SaleID uint64 `json:"saleId"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	sale, err := s.node.GetSale(params.SaleID)
	if err != nil {
		return nil, err
	}
	return saleResultFrom(*sale), nil
}

func (s *Server) handleSalesBySeller(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Seller string `json:"seller"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	seller, err := parseAddress("seller", params.Seller)
	if err != nil {
		return nil, err
	}
	ids, err := s.node.SalesBySeller(seller)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

func (s *Server) handleSalesByCollection(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Collection uint64 `json:"collection"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	ids, err := s.node.SalesByCollection(params.Collection)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

func (s *Server) handleNonce(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	wallet, err := parseAddress("wallet", params.Wallet)
	if err != nil {
		return nil, err
	}
	return s.node.Nonce(wallet)
}

func (s *Server) handleLegacyHashUsed(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Hash string `json:"hash"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	raw, err := hexutil.Decode(strings.TrimSpace(params.Hash))
	if err != nil || len(raw) != common.HashLength {
		return nil, invalidParams("invalid hash", err)
	}
	return s.node.LegacyHashUsed(common.BytesToHash(raw))
}

func (s *Server) handleDomain(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	domain, err := s.node.Domain()
	if err != nil {
		return nil, err
	}
	separator, err := domain.Separator()
	if err != nil {
		return nil, err
	}
	return DomainResult{
		Name:              domain.Name,
		Version:           domain.Version,
		ChainID:           domain.ChainID.String(),
		VerifyingContract: domain.VerifyingContract.Hex(),
		Separator:         separator.Hex(),
	}, nil
}

func (s *Server) handleNextScheduleTime(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.node.NextScheduleTime()
}

func (s *Server) handleSchedules(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	slots, err := s.node.Schedules()
	if err != nil {
		return nil, err
	}
	out := make([]ScheduleResult, 0, len(slots))
	for _, slot := range slots {
		out = append(out, ScheduleResult{ID: slot.ID, DayOfWeek: slot.DayOfWeek, Hour: slot.Hour, Minute: slot.Minute, Active: slot.Active})
	}
	return out, nil
}

func (s *Server) handleDuration(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	seconds, ok, err := s.node.Duration(params.ID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": params.ID, "seconds": seconds, "configured": ok}, nil
}

func (s *Server) handleQuoteServiceFee(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Operation string `json:"operation"`
		Fiat      bool   `json:"fiat"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	op, err := nativecommon.ParseOperation(params.Operation)
	if err != nil {
		return nil, invalidParams("invalid operation", err)
	}
	quote, err := s.node.QuoteServiceFee(op, params.Fiat)
	if err != nil {
		return nil, err
	}
	return ServiceFeeResult{
		Operation:     quote.Operation.String(),
		Flat:          amountString(quote.Flat),
		FiatSurcharge: amountString(quote.FiatSurcharge),
		Total:         amountString(quote.Total()),
	}, nil
}

func (s *Server) handleQuoteTransactionFees(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Seller string `json:"seller"`
		Buyer  string `json:"buyer"`
		Amount string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	seller, err := parseAddress("seller", params.Seller)
	if err != nil {
		return nil, err
	}
	buyer, err := parseAddress("buyer", params.Buyer)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	quote, err := s.node.QuoteTransactionFees(seller, buyer, amount)
	if err != nil {
		return nil, err
	}
	payouts, err := fees.SplitPool(quote.Pool(), quote.Fees)
	if err != nil {
		return nil, err
	}
	return TransactionFeesResult{
		Amount:    amountString(quote.Amount),
		SellerBps: quote.SellerBps,
		BuyerBps:  quote.BuyerBps,
		SellerFee: amountString(quote.SellerFee),
		BuyerFee:  amountString(quote.BuyerFee),
		Pool:      amountString(quote.Pool()),
		Payouts:   payoutsFrom(payouts),
	}, nil
}

func (s *Server) handleBalanceOf(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Token string `json:"token"`
		Owner string `json:"owner"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	token, err := parseAddress("token", params.Token)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	balance, err := s.node.BalanceOf(token, owner)
	if err != nil {
		return nil, err
	}
	return amountString(balance), nil
}

func (s *Server) handleOwnerOf(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		WrapperID uint64 `json:"wrapperId"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	owner, err := s.node.OwnerOf(params.WrapperID)
	if err != nil {
		return nil, err
	}
	return owner.Hex(), nil
}

func (s *Server) handleIsPaused(_ *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params struct {
		Module string `json:"module"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Module) == "" {
		params.Module = nativecommon.ModuleMarket
	}
	return s.node.IsPaused(params.Module)
}
