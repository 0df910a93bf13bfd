package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"scanattend/internal/attendance"
	"scanattend/internal/auth"
	"scanattend/internal/clock"
	"scanattend/internal/metrics"
	"scanattend/internal/queue"
)

// Recorder decides and persists scans.
type Recorder interface {
	Record(ctx context.Context, personID string, instant time.Time, sourceDevice string) (attendance.Outcome, error)
}

// Querier serves the display reads.
type Querier interface {
	ByDay(ctx context.Context, personID string, date clock.Date) ([]attendance.Record, error)
	ByMonth(ctx context.Context, personID string, year int, month time.Month) ([]attendance.DayCount, error)
}

// Publisher forwards domain events; queue.Queue satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) bool

// TokenConfig signs device tokens.
type TokenConfig struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// Deps wires a Handler. Publisher, Metrics and Checks are optional.
type Deps struct {
	Recorder  Recorder
	Queries   Querier
	Devices   attendance.DeviceRegistry
	Publisher Publisher
	Clock     *clock.Resolver
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Tokens    TokenConfig
	Checks    map[string]Check
}

// Handler exposes the attendance HTTP surface.
type Handler struct {
	recorder  Recorder
	queries   Querier
	devices   attendance.DeviceRegistry
	publisher Publisher
	clock     *clock.Resolver
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tokens    TokenConfig
	checks    map[string]Check
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.NewResolver(0, nil)
	}
	return &Handler{
		recorder:  d.Recorder,
		queries:   d.Queries,
		devices:   d.Devices,
		publisher: d.Publisher,
		clock:     d.Clock,
		metrics:   d.Metrics,
		logger:    d.Logger,
		tokens:    d.Tokens,
		checks:    d.Checks,
	}
}

// Guards are the per-route middlewares. Nil entries are skipped.
type Guards struct {
	Scan      gin.HandlerFunc
	Read      gin.HandlerFunc
	Provision gin.HandlerFunc
	Limit     gin.HandlerFunc
}

// Register mounts the attendance routes on r.
func (h *Handler) Register(r gin.IRouter, g Guards) {
	r.GET("/healthz", h.Healthz)

	grp := r.Group("/attendance")
	grp.POST("/scan", chain(h.Scan, g.Scan, g.Limit)...)
	grp.GET("/by-day/:personId", chain(h.ByDay, g.Read, g.Limit)...)
	grp.GET("/by-month/:personId", chain(h.ByMonth, g.Read, g.Limit)...)
	grp.POST("/devices/token", chain(h.DeviceToken, g.Provision, g.Limit)...)
}

func chain(final gin.HandlerFunc, mws ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mws)+1)
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return append(out, final)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Scan ----------

type scanRequest struct {
	PersonID     string `json:"personId" binding:"required"`
	SourceDevice string `json:"sourceDevice"`
}

// Scan records a presence for the slot in force now. The decision time is
// read from the server clock; clients never supply it.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "personId is required"})
		return
	}

	if claims, ok := auth.ClaimsFrom(c); ok && claims.Role == auth.RoleDevice {
		if req.SourceDevice == "" {
			req.SourceDevice = claims.Subject
		} else if req.SourceDevice != claims.Subject {
			c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "device mismatch"})
			return
		}
	}

	start := time.Now()
	instant := h.clock.Now()
	outcome, err := h.recorder.Record(c.Request.Context(), req.PersonID, instant, req.SourceDevice)
	if err != nil {
		h.metrics.ObserveScan("Failed", "", time.Since(start))
		h.fail(c, "scan", err)
		return
	}
	h.metrics.ObserveScan(string(outcome.Kind), string(outcome.Reason), time.Since(start))

	if outcome.Kind == attendance.OutcomeRejected {
		status := http.StatusOK
		if outcome.Reason == attendance.ReasonPersonNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"ok": false, "reason": outcome.Reason})
		return
	}

	created := outcome.Kind == attendance.OutcomeCreated
	if created {
		h.publishRecorded(c.Request.Context(), outcome.Record)
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"created": created,
		"outcome": outcome.Kind,
		"record":  outcome.Record,
	})
}

func (h *Handler) publishRecorded(ctx context.Context, rec attendance.Record) {
	if h.publisher == nil {
		return
	}
	body, err := attendance.EncodeRecorded(rec)
	if err != nil {
		h.logger.Error("encode recorded event", "record_id", rec.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.publisher.Publish(ctx, queue.Message{Type: attendance.EventRecorded, Body: body}); err != nil {
		h.logger.Warn("queue publish failed", "record_id", rec.ID, "error", err)
	}
}

// ---------- Queries ----------

// ByDay expects ?day&month&year or ?date=YYYY-MM-DD.
func (h *Handler) ByDay(c *gin.Context) {
	date, err := dateQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	records, err := h.queries.ByDay(c.Request.Context(), c.Param("personId"), date)
	h.metrics.ObserveQuery("by_day", err)
	if err != nil {
		h.fail(c, "by-day", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "date": date, "records": records})
}

// ByMonth expects ?month&year.
func (h *Handler) ByMonth(c *gin.Context) {
	year, errY := intQuery(c, "year")
	month, errM := intQuery(c, "month")
	if errY != nil || errM != nil || month < 1 || month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "month (1-12) and year are required"})
		return
	}
	days, err := h.queries.ByMonth(c.Request.Context(), c.Param("personId"), year, time.Month(month))
	h.metrics.ObserveQuery("by_month", err)
	if err != nil {
		h.fail(c, "by-month", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "year": year, "month": month, "days": days})
}

func dateQuery(c *gin.Context) (clock.Date, error) {
	if raw := c.Query("date"); raw != "" {
		return clock.ParseDate(raw)
	}
	year, errY := intQuery(c, "year")
	month, errM := intQuery(c, "month")
	day, errD := intQuery(c, "day")
	if err := errors.Join(errY, errM, errD); err != nil {
		return clock.Date{}, errors.New("day, month and year are required")
	}
	return clock.NewDate(year, time.Month(month), day)
}

func intQuery(c *gin.Context, name string) (int, error) {
	return strconv.Atoi(c.Query(name))
}

// ---------- Devices ----------

type deviceTokenRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

// DeviceToken registers a scanner and issues it a device bearer token.
func (h *Handler) DeviceToken(c *gin.Context) {
	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "deviceId is required"})
		return
	}
	if h.devices != nil {
		if err := h.devices.RegisterDevice(c.Request.Context(), req.DeviceID); err != nil {
			h.fail(c, "register device", err)
			return
		}
	}
	tok, err := auth.Issue(req.DeviceID, auth.RoleDevice, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.TTL)
	if err != nil {
		h.logger.Error("issue device token", "device_id", req.DeviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ok":        true,
		"deviceId":  req.DeviceID,
		"token":     tok.Value,
		"expiresAt": tok.ExpiresAt.Unix(),
	})
}

// fail maps service errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, attendance.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	h.logger.Error(op+" failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "reason": "Unavailable", "retryable": true})
}
