package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"luxmarket/core"
	"luxmarket/native/escrow"
)

func (s *Server) handleMarketList(r *http.Request, req *RPCRequest) (interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var params listParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	seller, err := parseAddress("seller", params.Seller)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount("price", params.Price)
	if err != nil {
		return nil, err
	}
	token, err := parseToken(params.PaymentToken)
	if err != nil {
		return nil, err
	}
	sig, err := params.Signature.toCore()
	if err != nil {
		return nil, err
	}
	caller, err := s.submitter(r, seller, params.Caller)
	if err != nil {
		return nil, err
	}
	res, err := s.node.List(r.Context(), caller, escrow.ListRequest{
		Seller:       seller,
		WrapperID:    params.WrapperID,
		Price:        price,
		DurationID:   params.DurationID,
		PaymentToken: token,
	}, sig)
	if err != nil {
		return nil, err
	}
	return ListResult{
		Sale:       saleResultFrom(res.Sale),
		DurationID: res.DurationID,
		Payment:    paymentResultFrom(res.Payment),
	}, nil
}

type saleCall struct {
	caller common.Address
	req    escrow.SaleRequest
	sig    core.Signature
}

// decodeSaleCall parses the parameters shared by buy, withdraw and renew.
func (s *Server) decodeSaleCall(r *http.Request, req *RPCRequest) (saleCall, error) {
	if err := s.ready(); err != nil {
		return saleCall{}, err
	}
	var params saleParams
	if err := decodeParams(req, &params); err != nil {
		return saleCall{}, err
	}
	wallet, err := parseAddress("wallet", params.Wallet)
	if err != nil {
		return saleCall{}, err
	}
	token, err := parseToken(params.PaymentToken)
	if err != nil {
		return saleCall{}, err
	}
	sig, err := params.Signature.toCore()
	if err != nil {
		return saleCall{}, err
	}
	caller, err := s.submitter(r, wallet, params.Caller)
	if err != nil {
		return saleCall{}, err
	}
	return saleCall{
		caller: caller,
		req:    escrow.SaleRequest{Wallet: wallet, SaleID: params.SaleID, PaymentToken: token},
		sig:    sig,
	}, nil
}

func (s *Server) handleMarketBuy(r *http.Request, req *RPCRequest) (interface{}, error) {
	call, err := s.decodeSaleCall(r, req)
	if err != nil {
		return nil, err
	}
	res, err := s.node.Buy(r.Context(), call.caller, call.req, call.sig)
	if err != nil {
		return nil, err
	}
	return BuyResult{
		Sale:      saleResultFrom(res.Sale),
		Buyer:     res.Buyer.Hex(),
		SellerFee: amountString(res.Trade.SellerFee),
		BuyerFee:  amountString(res.Trade.BuyerFee),
		Payment:   paymentResultFrom(res.Payment),
	}, nil
}

func (s *Server) handleMarketWithdraw(r *http.Request, req *RPCRequest) (interface{}, error) {
	call, err := s.decodeSaleCall(r, req)
	if err != nil {
		return nil, err
	}
	res, err := s.node.Withdraw(r.Context(), call.caller, call.req, call.sig)
	if err != nil {
		return nil, err
	}
	return WithdrawResult{Sale: saleResultFrom(res.Sale), Payment: paymentResultFrom(res.Payment)}, nil
}

func (s *Server) handleMarketRenew(r *http.Request, req *RPCRequest) (interface{}, error) {
	call, err := s.decodeSaleCall(r, req)
	if err != nil {
		return nil, err
	}
	res, err := s.node.Renew(r.Context(), call.caller, call.req, call.sig)
	if err != nil {
		return nil, err
	}
	return RenewResult{
		Sale:          saleResultFrom(res.Sale),
		PreviousStart: res.PreviousStart,
		PreviousEnd:   res.PreviousEnd,
		Payment:       paymentResultFrom(res.Payment),
	}, nil
}
