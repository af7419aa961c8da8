package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/ports"
	"github.com/layer-3/pearauth/service"
	"github.com/shopspring/decimal"
)

// FlowHandlers exposes the wallet flow and the order gate over HTTP
type FlowHandlers struct {
	flow   *service.Flow
	trader *service.Trader
	wallet ports.WalletProvider
}

// NewFlowHandlers creates new flow handlers. wallet is the wallet the
// daemon connects on /wallet/connect.
func NewFlowHandlers(flow *service.Flow, trader *service.Trader, wallet ports.WalletProvider) *FlowHandlers {
	return &FlowHandlers{
		flow:   flow,
		trader: trader,
		wallet: wallet,
	}
}

type provisionResponse struct {
	AgentAddress   string                `json:"agentAddress,omitempty"`
	AgentReceipt   *core.ApprovalReceipt `json:"agentReceipt,omitempty"`
	BuilderReceipt *core.ApprovalReceipt `json:"builderFeeReceipt,omitempty"`
}

func newProvisionResponse(res *service.ProvisionResult) *provisionResponse {
	if res == nil {
		return nil
	}
	out := &provisionResponse{}
	if res.Agent.Provisioned() {
		out.AgentAddress = res.Agent.Address.Hex()
	}
	if r, ok := res.AgentReceipt.Get(); ok {
		out.AgentReceipt = &r
	}
	if r, ok := res.BuilderReceipt.Get(); ok {
		out.BuilderReceipt = &r
	}
	return out
}

// Connect attaches the daemon wallet to the session
func (h *FlowHandlers) Connect(c *gin.Context) {
	if err := h.flow.Connect(c.Request.Context(), h.wallet.Identity()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.flow.Snapshot())
}

// Disconnect resets the session
func (h *FlowHandlers) Disconnect(c *gin.Context) {
	h.flow.Disconnect(c.Request.Context())
	c.JSON(http.StatusOK, h.flow.Snapshot())
}

// Authenticate signs a Pear challenge and logs in
func (h *FlowHandlers) Authenticate(c *gin.Context) {
	if _, err := h.flow.Authenticate(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.flow.Snapshot())
}

// Approve provisions the agent wallet and runs the approvals
func (h *FlowHandlers) Approve(c *gin.Context) {
	var req struct {
		AccessToken string `json:"accessToken"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	res, err := h.flow.ProvisionAndApproveAgent(c.Request.Context(), core.AccessToken(req.AccessToken))
	h.respondProvision(c, res, err)
}

// RetryApprovals re-runs the approvals that have not succeeded
func (h *FlowHandlers) RetryApprovals(c *gin.Context) {
	res, err := h.flow.RetryApprovals(c.Request.Context())
	h.respondProvision(c, res, err)
}

func (h *FlowHandlers) respondProvision(c *gin.Context, res *service.ProvisionResult, err error) {
	if err != nil {
		body := errorBody(err)
		if res != nil {
			body["result"] = newProvisionResponse(res)
		}
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":  newProvisionResponse(res),
		"session": h.flow.Snapshot(),
	})
}

// Session returns the read-only session snapshot
func (h *FlowHandlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.flow.Snapshot())
}

// PlaceSpotOrder places a spot market order
func (h *FlowHandlers) PlaceSpotOrder(c *gin.Context) {
	var req struct {
		Asset  string          `json:"asset" binding:"required"`
		IsBuy  bool            `json:"isBuy"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.trader.PlaceSpotOrder(c.Request.Context(), core.SpotOrder{
		Asset:  req.Asset,
		IsBuy:  req.IsBuy,
		Amount: req.Amount,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// OpenOrders lists open orders
func (h *FlowHandlers) OpenOrders(c *gin.Context) {
	orders, err := h.trader.OpenOrders(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", orders)
}

// CancelOrder cancels an open order
func (h *FlowHandlers) CancelOrder(c *gin.Context) {
	if err := h.trader.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled"})
}

// Health reports liveness
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), errorBody(err))
}

func errorBody(err error) gin.H {
	return gin.H{
		"error":     core.UserMessage(err),
		"code":      core.KindName(err),
		"retryable": core.Retryable(err),
	}
}

// statusFor maps a flow error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrWalletNotConnected),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrBelowMinimumSize):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthenticated),
		errors.Is(err, core.ErrAuthRejected):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrUserRejected),
		errors.Is(err, core.ErrTradingNotEnabled):
		return http.StatusForbidden
	case errors.Is(err, core.ErrFlowBusy),
		errors.Is(err, core.ErrSessionReset),
		errors.Is(err, core.ErrAgentNotProvisioned):
		return http.StatusConflict
	case errors.Is(err, core.ErrInsufficientCollateral),
		errors.Is(err, core.ErrFeeCeiling),
		errors.Is(err, core.ErrOrderRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrChallengeUnavailable),
		errors.Is(err, core.ErrProvisionFailed),
		errors.Is(err, core.ErrChainError),
		errors.Is(err, core.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
