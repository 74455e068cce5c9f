package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"riskgate/internal/engine"
	"riskgate/internal/history"
)

// apiRouter serves the read-only status queries and the kill switch.
type apiRouter struct {
	engine *engine.Engine
	store  *history.Store
}

func (r *apiRouter) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/profile", r.handleProfile)
	group.GET("/positions", r.handlePositions)
	group.GET("/trades", r.handleTrades)
	group.GET("/audits", r.handleAudits)
	group.POST("/killswitch", r.handleKillSwitch)
}

func (r *apiRouter) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Status())
}

func (r *apiRouter) handleProfile(c *gin.Context) {
	st := r.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"name":           st.Profile.Profile.Name,
		"risk_pct":       st.Profile.Profile.RiskPct,
		"max_positions":  st.Profile.Profile.MaxPositions,
		"version":        st.Profile.Version,
		"last_change":    st.Profile.LastChange,
		"daily_switches": st.Profile.DailySwitches,
	})
}

func (r *apiRouter) handlePositions(c *gin.Context) {
	st := r.engine.Status()
	c.JSON(http.StatusOK, gin.H{"positions": st.Positions, "count": st.OpenCount})
}

func (r *apiRouter) handleTrades(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := r.store.RecentClosedTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *apiRouter) handleAudits(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	kind := c.Query("kind")
	if kind != "" && kind != history.AuditKindAdmission && kind != history.AuditKindExit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be admission or exit"})
		return
	}
	audits, err := r.store.RecentAudits(c.Request.Context(), kind, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits})
}

func (r *apiRouter) handleKillSwitch(c *gin.Context) {
	var body struct {
		On bool `json:"on"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.engine.SetKillSwitch(body.On)
	c.JSON(http.StatusOK, gin.H{"kill_switch": body.On})
}
