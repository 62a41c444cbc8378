package livehttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"tradegate/internal/agent/engine"
	"tradegate/internal/decision"
	"tradegate/internal/logger"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
	"tradegate/internal/pkg/tradelock"
	"tradegate/internal/store/audit"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RoundRunner 由 engine.Engine 实现。
type RoundRunner interface {
	RunRound(ctx context.Context) (engine.RoundReport, error)
}

// AuditReader 由 audit.Store 实现。
type AuditReader interface {
	ListRounds(ctx context.Context, limit int) ([]audit.RoundRecord, error)
	ListActivations(ctx context.Context, agentID string, limit int) ([]circuit.Activation, error)
}

// Router 暴露风控核心的状态查询与管理接口。
type Router struct {
	Breaker  *circuit.Breaker
	Limiters *ratelimit.Registry
	Lock     *tradelock.Lock
	Rounds   RoundRunner
	Audit    AuditReader
}

// Register 将 /api/live 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.Breaker != nil {
		group.GET("/breaker/status", r.handleBreakerStatus)
		group.GET("/breaker/activations", r.handleBreakerActivations)
		group.PATCH("/breaker/config", r.handleBreakerConfig)
		group.POST("/breaker/reset", r.handleBreakerReset)
		group.POST("/breaker/check", r.handleBreakerCheck)
	}
	if r.Limiters != nil {
		group.GET("/limiters", r.handleLimiters)
	}
	if r.Lock != nil {
		group.GET("/lock", r.handleLockStatus)
		group.POST("/lock/force-release", r.handleLockForceRelease)
	}
	group.GET("/rounds", r.handleRounds)
	group.GET("/activations/history", r.handleActivationHistory)
	if r.Rounds != nil {
		group.POST("/rounds/run", r.handleRunRound)
	}
}

func (r *Router) handleBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Breaker.Status())
}

func (r *Router) handleBreakerActivations(c *gin.Context) {
	limit := parseLimit(c, circuit.DefaultStatusRecent)
	c.JSON(http.StatusOK, gin.H{"activations": r.Breaker.RecentActivations(limit)})
}

func (r *Router) handleBreakerConfig(c *gin.Context) {
	var patch circuit.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if err := patch.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := r.Breaker.Configure(patch)
	logger.Infof("Breaker config patched via HTTP ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

func (r *Router) handleBreakerReset(c *gin.Context) {
	r.Breaker.ResetAll()
	logger.Warnf("Breaker state reset via HTTP ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type checkRequest struct {
	AgentID   string             `json:"agent_id"`
	Decision  decision.Decision  `json:"decision"`
	Portfolio decision.Portfolio `json:"portfolio"`
}

// handleBreakerCheck 对给定提议做一次检查但不执行；检查会计入激活日志。
func (r *Router) handleBreakerCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	req.Decision.Action = decision.Action(strings.ToLower(strings.TrimSpace(string(req.Decision.Action))))
	if err := req.Decision.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.Breaker.Check(req.AgentID, req.Decision, req.Portfolio))
}

func (r *Router) handleLimiters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"limiters": r.Limiters.ListAllMetrics()})
}

func (r *Router) handleLockStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Lock.Status())
}

func (r *Router) handleLockForceRelease(c *gin.Context) {
	released := r.Lock.ForceRelease()
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (r *Router) handleRounds(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	rounds, err := r.Audit.ListRounds(c.Request.Context(), parseLimit(c, defaultListLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (r *Router) handleActivationHistory(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	acts, err := r.Audit.ListActivations(c.Request.Context(), c.Query("agent_id"), parseLimit(c, defaultListLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activations": acts})
}

// handleRunRound 同步执行一轮；锁被占用时返回 409 与当前持有者。
func (r *Router) handleRunRound(c *gin.Context) {
	report, err := r.Rounds.RunRound(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if report.Skipped {
		c.JSON(http.StatusConflict, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

func parseLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
