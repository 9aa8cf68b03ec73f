package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tradedesk/internal/engine"
	"tradedesk/internal/execution"
)

// writeEngineError maps engine and execution errors onto HTTP status codes.
func writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"code": "NOT_PENDING", "error": err.Error()})
	case errors.Is(err, engine.ErrPendingExists):
		c.JSON(http.StatusConflict, gin.H{"code": "PENDING_EXISTS", "error": err.Error()})
	case errors.Is(err, engine.ErrBlockedByOpenPosition):
		c.JSON(http.StatusConflict, gin.H{"code": "BLOCKED_BY_OPEN_POSITION", "error": err.Error()})
	case errors.Is(err, engine.ErrConfirmationRequired):
		c.JSON(http.StatusBadRequest, gin.H{"code": "CONFIRMATION_REQUIRED", "error": err.Error()})
	case errors.Is(err, engine.ErrAuthInvalid):
		c.JSON(http.StatusForbidden, gin.H{"code": "AUTH_INVALID", "error": err.Error()})
	case errors.Is(err, engine.ErrStopped):
		c.JSON(http.StatusConflict, gin.H{"code": "ENGINE_STOPPED", "error": err.Error()})
	case errors.Is(err, execution.ErrCircuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "CIRCUIT_OPEN", "error": err.Error()})
	case errors.Is(err, execution.ErrNoMarketData):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "NO_MARKET_DATA", "error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXECUTION_FAILED", "error": err.Error()})
	}
}

// getSignal returns the pending signal awaiting a decision, if any.
func (s *Server) getSignal(c *gin.Context) {
	p := s.eng.Pending()
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"pending": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": p})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Status(c.Request.Context()))
}

func (s *Server) getPnL(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.PnL())
}

func (s *Server) getTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.eng.Trades()})
}

func (s *Server) getMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.eng.Mode()})
}

// postTick triggers one evaluation cycle outside the background schedule.
func (s *Server) postTick(c *gin.Context) {
	if err := s.eng.EvaluateTick(c.Request.Context()); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "evaluated"})
}

func (s *Server) postApprove(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.BindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "signal id required"})
		return
	}

	pos, err := s.eng.Approve(c.Request.Context(), req.ID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executed", "position": pos})
}

func (s *Server) postReject(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.BindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "signal id required"})
		return
	}

	if err := s.eng.Reject(req.ID); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (s *Server) postModeSwitch(c *gin.Context) {
	var req struct {
		Mode        string `json:"mode"`
		ConfirmLive bool   `json:"confirm_live"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	target := execution.Mode(req.Mode)
	if target != execution.ModePaper && target != execution.ModeLive {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_MODE", "error": "mode must be PAPER or LIVE"})
		return
	}

	if err := s.eng.SwitchMode(c.Request.Context(), target, req.ConfirmLive); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "switched", "mode": target})
}

func (s *Server) postStop(c *gin.Context) {
	if err := s.eng.Stop(c.Request.Context()); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
