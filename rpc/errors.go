package rpc

import (
	"errors"
	"net/http"

	marketerr "luxmarket/core/errors"
	nativecommon "luxmarket/native/common"
)

// toRPCError maps node failures onto JSON-RPC codes by their error kind.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.status == 0 {
			rpcErr.status = http.StatusBadRequest
		}
		return rpcErr
	}
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return newRPCError(http.StatusServiceUnavailable, codeModulePaused, "module paused", err.Error())
	}
	switch marketerr.KindOf(err) {
	case marketerr.KindValidation:
		return newRPCError(http.StatusBadRequest, codeInvalidParams, "invalid request", err.Error())
	case marketerr.KindAuthorization:
		return newRPCError(http.StatusForbidden, codeUnauthorized, "not authorized", err.Error())
	case marketerr.KindState:
		return newRPCError(http.StatusConflict, codeConflict, "conflicting state", err.Error())
	case marketerr.KindExternal:
		return newRPCError(http.StatusUnprocessableEntity, codeTransferFailed, "transfer failed", err.Error())
	default:
		return newRPCError(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
	}
}
