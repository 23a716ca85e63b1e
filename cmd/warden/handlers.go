package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/havenchat/warden/engine"
	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/modqueue"
	"github.com/havenchat/warden/provider"
)

// SignatureHeader carries the provider's HMAC signature over the raw webhook
// body.
const SignatureHeader = "X-Signature"

func (s *Server) RegisterHandlers(e *echo.Echo) {
	e.POST("/webhooks/chat", s.handleChatWebhook)
	e.GET("/_health", s.handleHealthCheck)

	admin := e.Group("/admin", s.adminAuthMiddleware())
	admin.GET("/queue", s.handleListQueue)
	admin.POST("/queue/:id/process", s.handleProcessQueueItem)
	admin.POST("/reports", s.handleCreateReport)
	admin.POST("/reports/:id/resolve", s.handleResolveReport)
	admin.GET("/rules", s.handleListRules)
	admin.POST("/rules", s.handleUpsertRule)
	admin.POST("/rules/refresh", s.handleRefreshRules)
}

func (s *Server) adminAuthMiddleware() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Validator: func(username, password string, c echo.Context) (bool, error) {
			if s.adminPassword == "" {
				return false, nil
			}
			userOK := subtle.ConstantTimeCompare([]byte(username), []byte("admin")) == 1
			passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1
			return userOK && passOK, nil
		},
		Realm: "WardenAdmin",
	})
}

// handleChatWebhook is the inbound event entry point. A bad signature is the
// only failure surfaced to the caller (401); validation failures are
// acknowledged as no-ops so malformed events don't loop through provider
// redelivery, while durability-critical failures return 500 so the provider
// redelivers. The abandoned admission record makes that redelivery
// re-processable.
func (s *Server) handleChatWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading body")
	}

	sig := c.Request().Header.Get(SignatureHeader)
	if !provider.VerifySignature(body, sig, s.webhookSecret) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook signature")
	}

	var evt engine.MessageEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		s.logger.Warn("malformed webhook payload", "err", err)
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	if err := evt.Validate(); err != nil {
		s.logger.Warn("invalid webhook event", "err", err)
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	if err := s.engine.ProcessMessageEvent(c.Request().Context(), &evt); err != nil {
		s.logger.Error("processing message event failed", "err", err, "messageID", evt.Message.ID)
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthCheck(c echo.Context) error {
	sqldb, err := s.db.DB()
	if err == nil {
		err = sqldb.PingContext(c.Request().Context())
	}
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListQueue(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := s.store.ListPending(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleProcessQueueItem(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid queue item id")
	}
	actor := actorFromContext(c)
	err = s.store.ProcessQueueItem(c.Request().Context(), id, actor)
	switch {
	case errors.Is(err, modqueue.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
	case errors.Is(err, modqueue.ErrAlreadyProcessed):
		return echo.NewHTTPError(http.StatusConflict, "queue item already processed")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

type createReportRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	ReporterID string `json:"reporter_id"`
	Reason     string `json:"reason"`
	Severity   int    `json:"severity"`
}

// handleCreateReport files a manual report, which also lands a queue item
// for review, same as router-created ones.
func (s *Server) handleCreateReport(c echo.Context) error {
	var req createReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TargetID == "" || req.ReporterID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_id and reporter_id are required")
	}
	if req.TargetType == "" {
		req.TargetType = models.TargetMessage
	}
	if req.Severity < 1 || req.Severity > 3 {
		req.Severity = 2
	}

	ctx := c.Request().Context()
	item, err := s.store.CreateQueueItem(ctx, req, []string{"manual-report"}, req.Severity)
	if err != nil {
		return err
	}
	report := &models.Report{
		QueueItemID: &item.ID,
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		ReporterID:  req.ReporterID,
		Reason:      req.Reason,
		Status:      models.ReportStatusOpen,
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		return err
	}
	if err := s.store.AppendAudit(ctx, "report_created", req.TargetType, req.TargetID, req.ReporterID, nil); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, report)
}

type resolveReportRequest struct {
	Action            string `json:"action"`
	Comment           string `json:"comment"`
	BanTimeoutMinutes *int   `json:"ban_timeout_minutes"`
}

func (s *Server) handleResolveReport(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
	}
	var req resolveReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	details, err := s.resolver.Resolve(c.Request().Context(), modqueue.ResolutionRequest{
		ReportID:          id,
		Action:            req.Action,
		Comment:           req.Comment,
		ModeratorID:       actorFromContext(c),
		BanTimeoutMinutes: req.BanTimeoutMinutes,
	})
	switch {
	case errors.Is(err, modqueue.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, modqueue.ErrAlreadyResolved):
		return echo.NewHTTPError(http.StatusConflict, "report already resolved")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, details)
}

func (s *Server) handleListRules(c echo.Context) error {
	var rules []models.KeywordRule
	if err := s.db.WithContext(c.Request().Context()).Order("id").Find(&rules).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rules)
}

type upsertRuleRequest struct {
	ID        uint64 `json:"id"`
	Term      string `json:"term"`
	IsPattern bool   `json:"is_pattern"`
	Severity  string `json:"severity"`
	Action    string `json:"action"`
	Enabled   *bool  `json:"enabled"`
}

func (s *Server) handleUpsertRule(c echo.Context) error {
	var req upsertRuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Term == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "term is required")
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := models.KeywordRule{
		ID:        req.ID,
		Term:      req.Term,
		IsPattern: req.IsPattern,
		Severity:  models.ParseSeverity(req.Severity),
		Action:    req.Action,
		Enabled:   enabled,
	}
	if err := s.db.WithContext(c.Request().Context()).Save(&rule).Error; err != nil {
		return err
	}
	// rule changes take effect on the next load
	s.registry.Invalidate()
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) handleRefreshRules(c echo.Context) error {
	rules, err := s.registry.Load(c.Request().Context(), true)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"rules": len(rules)})
}

func actorFromContext(c echo.Context) string {
	if actor := c.QueryParam("actor"); actor != "" {
		return actor
	}
	return "admin"
}
