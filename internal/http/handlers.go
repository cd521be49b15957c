package http

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"moff.io/moff-wallet/internal/chains"
	"moff.io/moff-wallet/internal/walletconnect"
)

func (s *Server) health(ctx *gin.Context) {
	state := "none"
	if c, err := s.manager.Client(); err == nil {
		state = c.State().String()
	}
	ok(ctx, gin.H{"session_state": state})
}

func (s *Server) getSession(ctx *gin.Context) {
	c, err := s.manager.Client()
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, c.Session())
}

type connectResponse struct {
	URI     string                    `json:"uri"`
	Session walletconnect.SessionInfo `json:"session"`
}

// connect restores the saved session or opens a new one; the uri is what the wallet scans.
func (s *Server) connect(ctx *gin.Context) {
	c, err := s.manager.Connect(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	uri, err := c.ConnectionString()
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, connectResponse{URI: uri, Session: c.Session()})
}

func (s *Server) connectionURI(ctx *gin.Context) {
	c, err := s.manager.Client()
	if err != nil {
		fail(ctx, err)
		return
	}
	uri, err := c.ConnectionString()
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"uri": uri})
}

type ensureResponse struct {
	Addresses []string `json:"addresses"`
	ChainID   uint64   `json:"chain_id"`
	ChainName string   `json:"chain_name,omitempty"`
	Rejected  bool     `json:"rejected"`
}

func (s *Server) ensureSession(ctx *gin.Context) {
	res, err := s.manager.EnsureSession(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	addresses := make([]string, 0, len(res.Addresses))
	for _, a := range res.Addresses {
		addresses = append(addresses, a.Hex())
	}
	resp := ensureResponse{Addresses: addresses, ChainID: res.ChainID, Rejected: res.Rejected}
	if res.ChainID != 0 {
		resp.ChainName = chains.NameOf(res.ChainID)
	}
	ok(ctx, resp)
}

// deleteSession tells the wallet, then forgets the session locally.
func (s *Server) deleteSession(ctx *gin.Context) {
	if c, err := s.manager.Client(); err == nil {
		_ = c.Disconnect()
	}
	if err := s.manager.ClearSession(ctx.Request.Context()); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

type signPersonalRequest struct {
	Message string `json:"message" binding:"required"`
	Address string `json:"address" binding:"required"`
}

func (s *Server) signPersonal(ctx *gin.Context) {
	var req signPersonalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request")
		return
	}
	address, err := walletconnect.ParseAddress(req.Address)
	if err != nil {
		fail(ctx, err)
		return
	}
	c, err := s.manager.Client()
	if err != nil {
		fail(ctx, err)
		return
	}
	sig, err := c.SignPersonal(ctx.Request.Context(), req.Message, address)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"signature": hexutil.Encode(sig)})
}

type transactionRequest struct {
	Address string                 `json:"address" binding:"required"`
	Tx      walletconnect.Eip155Tx `json:"tx"`
}

func (s *Server) bindTransaction(ctx *gin.Context) (*walletconnect.Client, *transactionRequest, bool) {
	var req transactionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request")
		return nil, nil, false
	}
	c, err := s.manager.Client()
	if err != nil {
		fail(ctx, err)
		return nil, nil, false
	}
	return c, &req, true
}

func (s *Server) signTransaction(ctx *gin.Context) {
	c, req, bound := s.bindTransaction(ctx)
	if !bound {
		return
	}
	address, err := walletconnect.ParseAddress(req.Address)
	if err != nil {
		fail(ctx, err)
		return
	}
	sig, err := c.SignEip155Transaction(ctx.Request.Context(), req.Tx, address)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"signature": hexutil.Encode(sig)})
}

func (s *Server) sendTransaction(ctx *gin.Context) {
	c, req, bound := s.bindTransaction(ctx)
	if !bound {
		return
	}
	address, err := walletconnect.ParseAddress(req.Address)
	if err != nil {
		fail(ctx, err)
		return
	}
	hash, err := c.SendEip155Transaction(ctx.Request.Context(), req.Tx, address)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"hash": hash.Hex()})
}

type contractRequest struct {
	Address string                 `json:"address" binding:"required"`
	Action  json.RawMessage        `json:"action" binding:"required"`
	Common  walletconnect.TxCommon `json:"common"`
}

// sendContract takes the action as its json envelope, e.g. {"ContractTransfer":{"Erc20Transfer":{...}}}.
func (s *Server) sendContract(ctx *gin.Context) {
	var req contractRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request")
		return
	}
	address, err := walletconnect.ParseAddress(req.Address)
	if err != nil {
		fail(ctx, err)
		return
	}
	c, err := s.manager.Client()
	if err != nil {
		fail(ctx, err)
		return
	}
	hash, err := c.SendContractTransactionJSON(ctx.Request.Context(), string(req.Action), req.Common, address)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"hash": hash.Hex()})
}
