package restapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/utils"
)

// APIError is the error body of every non-2xx response.
type APIError struct {
	Error string `json:"error"`
}

// BalanceResponse is a BalanceView plus an optional display amount.
type BalanceResponse struct {
	entity.BalanceView
	Formatted string `json:"formatted,omitempty"`
}

// RestoreResponse is the JSON shape of entity.RestoreResult.
type RestoreResponse struct {
	Outcome entity.RestoreOutcome `json:"outcome"`
	Session *entity.WalletSession `json:"session,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type restoreRequest struct {
	Identity string `json:"identity"`
}

// ReconcilerHandler serves the engine callback ingress and the balance/session API.
type ReconcilerHandler struct {
	service port.ShieldedWalletService
	logger  port.Logger
}

// NewReconcilerHandler creates the handler set.
func NewReconcilerHandler(svc port.ShieldedWalletService, logger port.Logger) *ReconcilerHandler {
	return &ReconcilerHandler{service: svc, logger: logger}
}

// PostBalanceEvent accepts one raw balance callback. Numbers are kept exact.
func (h *ReconcilerHandler) PostBalanceEvent(c *gin.Context) {
	raw, ok := h.readObject(c)
	if !ok {
		return
	}
	if err := h.service.OnBalanceUpdate(entity.RawBalanceEvent(raw)); err != nil {
		c.JSON(http.StatusUnprocessableEntity, APIError{Error: err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// PostScanEvent accepts one scan progress callback for the :kind stream.
func (h *ReconcilerHandler) PostScanEvent(c *gin.Context) {
	kind, ok := entity.ParseScanKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusNotFound, APIError{Error: "unknown scan kind " + c.Param("kind")})
		return
	}
	raw, ok := h.readObject(c)
	if !ok {
		return
	}
	h.service.OnScanProgress(kind, entity.RawScanEvent(raw))
	c.Status(http.StatusAccepted)
}

func (h *ReconcilerHandler) readObject(c *gin.Context) (map[string]any, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Error: "read body: " + err.Error()})
		return nil, false
	}
	raw, err := utils.DecodeObject(body)
	if err != nil {
		h.logger.Debug("Rejected malformed callback body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
		return nil, false
	}
	return raw, true
}

// GetBalances serves /balances[/:walletId[/:bucket]]. Query: bucket, tokenAddress, decimals.
func (h *ReconcilerHandler) GetBalances(c *gin.Context) {
	walletID := c.Param("walletId")
	bucketName := c.Param("bucket")
	if bucketName == "" {
		bucketName = c.Query("bucket")
	}
	var bucket entity.BalanceBucket
	if bucketName != "" {
		bucket, _ = entity.ParseBalanceBucket(bucketName)
	}
	tokenAddress := strings.TrimSpace(c.Query("tokenAddress"))

	resp := BalanceResponse{BalanceView: h.service.GetBalance(walletID, bucket, tokenAddress)}

	if d := c.Query("decimals"); d != "" && tokenAddress != "" {
		decimals, err := strconv.ParseInt(d, 10, 32)
		if err != nil || decimals < 0 {
			c.JSON(http.StatusBadRequest, APIError{Error: "decimals must be a non-negative integer"})
			return
		}
		formatted, err := utils.FormatAmount(resp.Amount, int32(decimals))
		if err != nil {
			c.JSON(http.StatusInternalServerError, APIError{Error: err.Error()})
			return
		}
		resp.Formatted = formatted
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ReconcilerHandler) Connect(c *gin.Context) {
	var creds entity.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
		return
	}
	session, err := h.service.Connect(c.Request.Context(), creds)
	if err != nil {
		c.JSON(statusFor(err), APIError{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *ReconcilerHandler) Disconnect(c *gin.Context) {
	if err := h.service.Disconnect(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), APIError{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Restore always answers 200; the outcome field carries the result.
func (h *ReconcilerHandler) Restore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
		return
	}
	res := h.service.Restore(c.Request.Context(), req.Identity)
	out := RestoreResponse{Outcome: res.Outcome, Session: res.Session}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	c.JSON(http.StatusOK, out)
}

func (h *ReconcilerHandler) Refresh(c *gin.Context) {
	if err := h.service.RefreshBalances(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), APIError{Error: err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *ReconcilerHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.State())
}

func (h *ReconcilerHandler) GetScans(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ScanStates())
}

func (h *ReconcilerHandler) GetDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Diagnostics())
}

func statusFor(err error) int {
	var resolution *entity.WalletResolutionError
	switch {
	case errors.Is(err, entity.ErrIdentityRequired),
		errors.Is(err, entity.ErrSecretMaterialRequired),
		errors.Is(err, entity.ErrNoWalletSource):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrEngineNotStarted),
		errors.Is(err, entity.ErrNoActiveSession),
		errors.Is(err, entity.ErrConnectSuperseded),
		errors.Is(err, entity.ErrConnectContended):
		return http.StatusConflict
	case errors.As(err, &resolution):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
