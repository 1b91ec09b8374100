package sandbox

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/api"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/utils"
)

const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeRateLimited    = "RATE_LIMITED"
	codeUnauthorized   = "UNAUTHORIZED"
	codeUnavailable    = "UNAVAILABLE"
)

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}

// Health reports server status.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": s.sessions.count(),
		"streams":  s.streams.count(),
	})
}

// StartSession handles the start contract.
func (s *Server) StartSession(c *gin.Context) {
	var req api.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if err := validateStart(req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	created := s.sessions.start(req)
	s.counters.starts.Add(1)
	s.metrics.SetSandboxSessions(s.sessions.count())

	s.logger.Debug("Session started",
		logging.SessionID(req.SessionID),
		logging.TabID(req.TabID),
		zap.Bool("created", created))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "created": created})
}

// Heartbeat handles the heartbeat contract.
func (s *Server) Heartbeat(c *gin.Context) {
	var req api.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if err := utils.ValidateIDs(req.SessionID, req.TabID); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	if !s.sessions.heartbeat(req.SessionID, req.TabID) {
		s.counters.notFound.Add(1)
		s.metrics.SetSandboxSessions(s.sessions.count())
		abortWithError(c, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
		return
	}

	s.counters.heartbeats.Add(1)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// EndSession handles the end contract, from requests and beacons alike.
func (s *Server) EndSession(c *gin.Context) {
	var req api.EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if err := validateEnd(req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	s.counters.ends.Add(1)
	if !s.sessions.end(req) {
		abortWithError(c, http.StatusNotFound, api.CodeSessionNotFound, "Session not found")
		return
	}
	s.metrics.SetSandboxSessions(s.sessions.count())

	s.logger.Debug("Session ended",
		logging.SessionID(req.SessionID),
		zap.String("reason", req.Reason))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func validateStart(req api.StartRequest) error {
	if err := utils.ValidateIDs(req.SessionID, req.TabID); err != nil {
		return err
	}
	d := req.DeviceInfo
	return utils.ValidateDevice(d.UserAgent, d.Language, d.Timezone)
}

func validateEnd(req api.EndRequest) error {
	if err := utils.ValidateIDs(req.SessionID, req.TabID); err != nil {
		return err
	}
	return presence.Reason(req.Reason).Validate()
}
