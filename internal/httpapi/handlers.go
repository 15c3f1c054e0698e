package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/auth"
	"price-target-alerts/internal/evaluate"
	"price-target-alerts/internal/source"
	"price-target-alerts/internal/store"
)

const ownerContextKey = "owner_id"

// Handlers bundle the collaborators behind the HTTP surface.
type Handlers struct {
	alerts store.AlertStore
	runner *evaluate.Runner
	users  *auth.Service
	src    source.Source
	logger zerolog.Logger
}

// NewHandlers constructs the handler set.
func NewHandlers(alerts store.AlertStore, runner *evaluate.Runner, users *auth.Service, src source.Source, logger zerolog.Logger) *Handlers {
	return &Handlers{
		alerts: alerts,
		runner: runner,
		users:  users,
		src:    src,
		logger: logger.With().Str("component", "http_handlers").Logger(),
	}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RequireOwner extracts the owner identity from a Bearer token.
func (h *Handlers) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		ownerID, err := h.users.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ownerContextKey, ownerID)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) uuid.UUID {
	return c.MustGet(ownerContextKey).(uuid.UUID)
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register creates a new alert owner.
func (h *Handlers) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	u, err := h.users.Register(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email or password"})
	case err != nil:
		h.logger.Error().Err(err).Msg("registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
	default:
		c.JSON(http.StatusCreated, gin.H{"id": u.ID})
	}
}

// Login exchanges credentials for a bearer token.
func (h *Handlers) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	token, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

type createAlertRequest struct {
	ProductQuery string          `json:"product_query"`
	TargetPrice  decimal.Decimal `json:"target_price"`
}

type alertResponse struct {
	ID           uuid.UUID       `json:"id"`
	ProductQuery string          `json:"product_query"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	Status       alert.Status    `json:"status"`
}

// CreateAlert registers a price target for the authenticated owner.
func (h *Handlers) CreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	a, err := alert.New(ownerFrom(c), req.ProductQuery, req.TargetPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.alerts.Create(c.Request.Context(), a); err != nil {
		h.logger.Error().Err(err).Msg("failed to create alert")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create alert"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": a.ID})
}

// ListAlerts lists the owner's alerts, terminal ones included so failed
// alerts stay visible for recreation.
func (h *Handlers) ListAlerts(c *gin.Context) {
	alerts, err := h.alerts.ListByOwner(c.Request.Context(), ownerFrom(c))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list alerts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertResponse{
			ID:           a.ID,
			ProductQuery: a.ProductQuery,
			TargetPrice:  a.TargetPrice,
			Status:       a.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

// DeleteAlert removes one of the owner's alerts.
func (h *Handlers) DeleteAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}

	err = h.alerts.DeleteOwned(c.Request.Context(), id, ownerFrom(c))
	switch {
	case errors.Is(err, alert.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case err != nil:
		h.logger.Error().Err(err).Msg("failed to delete alert")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alert"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// RunSweep triggers one synchronous evaluation sweep and reports the alerts
// that reached a terminal state.
func (h *Handlers) RunSweep(c *gin.Context) {
	result, err := h.runner.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("sweep failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Search proxies a single marketplace lookup for interactive product search.
func (h *Handlers) Search(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keyword is required"})
		return
	}

	quote, err := h.src.Query(c.Request.Context(), keyword)
	switch {
	case errors.Is(err, source.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no listings matched"})
	case errors.Is(err, source.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "marketplace rate limit reached"})
	case err != nil:
		h.logger.Error().Err(err).Str("keyword", keyword).Msg("search failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "marketplace lookup failed"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"product":  quote.ProductLabel,
			"price":    quote.Price,
			"currency": quote.Currency,
			"link":     quote.SourceURL,
		})
	}
}
