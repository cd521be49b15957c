package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"moff.io/moff-wallet/internal/walletconnect"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/log/meta"
)

const (
	codeOK              = 0
	codeBadRequest      = 4000
	codeInvalidClient   = 4001
	codeEncoding        = 4002
	codeSigningRejected = 4003
	codeSerialization   = 4004
	codeCancelled       = 4005
	codeInternal        = 5000
	codeRelay           = 5001
)

type body struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, body{Code: codeOK, Msg: "ok", Data: data})
}

func badRequest(ctx *gin.Context, msg string) {
	ctx.JSON(http.StatusBadRequest, body{Code: codeBadRequest, Msg: msg})
}

// fail answers with the status and code of err's kind.
func fail(ctx *gin.Context, err error) {
	status, code := classify(err)
	entry := log.WithField("request_id", meta.RequestID(ctx.Request.Context()))
	if status >= http.StatusInternalServerError {
		entry.Errorf("%v %v:%v", ctx.Request.Method, ctx.FullPath(), err)
	} else {
		entry.Warnf("%v %v:%v", ctx.Request.Method, ctx.FullPath(), err)
	}
	ctx.JSON(status, body{Code: code, Msg: err.Error()})
}

func classify(err error) (int, int) {
	switch walletconnect.KindOf(err) {
	case walletconnect.KindInvalidClient:
		return http.StatusConflict, codeInvalidClient
	case walletconnect.KindEncoding:
		return http.StatusBadRequest, codeEncoding
	case walletconnect.KindSigningRejected:
		return http.StatusForbidden, codeSigningRejected
	case walletconnect.KindSerialization:
		return http.StatusUnprocessableEntity, codeSerialization
	case walletconnect.KindCancelled:
		return http.StatusRequestTimeout, codeCancelled
	case walletconnect.KindRelay:
		return http.StatusBadGateway, codeRelay
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
