package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ytcollect/channelid"
	"ytcollect/collect"
	"ytcollect/quota"
	"ytcollect/service"
	"ytcollect/storage"
	"ytcollect/youtube"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, channelid.ErrInvalid), errors.Is(err, collect.ErrInvalidChannelID):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNeedsResolution):
		return http.StatusUnprocessableEntity
	case errors.Is(err, youtube.ErrHandleNotFound), errors.Is(err, youtube.ErrChannelNotFound), storage.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, youtube.ErrMissingCredentials):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error().Err(err).Str("route", c.FullPath()).Msg("server: request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) collect(c *gin.Context) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Channel) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required"})
		return
	}

	ctx := c.Request.Context()
	if s.cfg.CollectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CollectTimeout)
		defer cancel()
	}

	resp, err := s.collector.Collect(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listChannels(c *gin.Context) {
	channels, err := s.channels.ListChannels(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if channels == nil {
		channels = []*storage.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels, "count": len(channels)})
}

func (s *Server) getChannel(c *gin.Context) {
	ch, err := s.channels.GetChannel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (s *Server) quotaStatus(c *gin.Context) {
	if s.quota == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota tracking disabled"})
		return
	}
	c.JSON(http.StatusOK, s.quota.Snapshot())
}

func (s *Server) quotaEstimate(c *gin.Context) {
	var req quota.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	units := quota.Estimate(req)
	body := gin.H{"units": units}
	if s.quota != nil {
		remaining := s.quota.Remaining()
		body["remaining"] = remaining
		body["fits"] = units <= remaining
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) resolve(c *gin.Context) {
	input := c.Query("input")
	if strings.TrimSpace(input) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input is required"})
		return
	}
	res, err := s.collector.Resolve(c.Request.Context(), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"input":      res.Input,
		"channel_id": res.ChannelID,
		"form":       res.Form,
		"resolved":   res.Kind == channelid.Resolved,
	})
}
