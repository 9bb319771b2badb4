package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	apperrors "github.com/benAliAlizadeh/mahsabot/internal/errors"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
	"github.com/benAliAlizadeh/mahsabot/internal/repository"
	"github.com/benAliAlizadeh/mahsabot/internal/services"
)

// Handler carries the dependencies of all HTTP endpoints
type Handler struct {
	lifecycle *services.LifecycleManager
	subs      services.SubscriptionStore
	nodes     services.NodeStore
	qr        *services.QRService
	payloads  *cache.Cache
	publicURL string
	logger    *logrus.Logger
}

type createRequest struct {
	MemberID int64 `json:"member_id"`
	PlanID   int64 `json:"plan_id" binding:"required"`
}

type editRequest struct {
	VolumeGB float64 `json:"volume_gb"`
	Days     int     `json:"days"`
}

type switchRequest struct {
	PlanID int64 `json:"plan_id" binding:"required"`
}

// CreateSubscription provisions a new account
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.lifecycle.Create(c.Request.Context(), req.MemberID, req.PlanID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.subscriptionResponse(sub))
}

// GetSubscription returns one local record
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, ok := h.subFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.subscriptionResponse(sub))
}

// LookupSubscription finds a record by its remote config name
func (h *Handler) LookupSubscription(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name query parameter is required"})
		return
	}
	sub, err := h.subs.GetByName(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.subscriptionResponse(sub))
}

// DeleteSubscription removes the account remotely and locally
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id, ok := idFromPath(c)
	if !ok {
		return
	}
	if err := h.lifecycle.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// RenewSubscription resets quota and restarts the expiry clock
func (h *Handler) RenewSubscription(c *gin.Context) {
	h.editTraffic(c, true)
}

// AddOnSubscription stacks quota and days on the current values
func (h *Handler) AddOnSubscription(c *gin.Context) {
	h.editTraffic(c, false)
}

func (h *Handler) editTraffic(c *gin.Context, renew bool) {
	id, ok := idFromPath(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.VolumeGB <= 0 && req.Days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume_gb or days must be positive"})
		return
	}

	var err error
	if renew {
		err = h.lifecycle.Renew(c.Request.Context(), id, req.VolumeGB, req.Days)
	} else {
		err = h.lifecycle.AddOn(c.Request.Context(), id, req.VolumeGB, req.Days)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// EnableSubscription re-enables a disabled account
func (h *Handler) EnableSubscription(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableSubscription cuts access without deleting anything
func (h *Handler) DisableSubscription(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := idFromPath(c)
	if !ok {
		return
	}
	if err := h.lifecycle.SetEnabled(c.Request.Context(), id, enabled); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// SwitchSubscriptionNode moves the account to another node, carrying the
// remaining lifetime
func (h *Handler) SwitchSubscriptionNode(c *gin.Context) {
	id, ok := idFromPath(c)
	if !ok {
		return
	}
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.lifecycle.SwitchNode(c.Request.Context(), id, req.PlanID); err != nil {
		respondError(c, err)
		return
	}

	sub, err := h.subs.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.payloads.Delete(sub.Token)
	c.JSON(http.StatusOK, h.subscriptionResponse(sub))
}

// RotateSubscriptionCredential issues a fresh credential and links
func (h *Handler) RotateSubscriptionCredential(c *gin.Context) {
	id, ok := idFromPath(c)
	if !ok {
		return
	}
	sub, err := h.lifecycle.RotateCredential(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.payloads.Delete(sub.Token)
	c.JSON(http.StatusOK, h.subscriptionResponse(sub))
}

// SubscriptionLinks rebuilds connection links from live remote state
func (h *Handler) SubscriptionLinks(c *gin.Context) {
	sub, ok := h.subFromPath(c)
	if !ok {
		return
	}
	info, err := h.lifecycle.ConnectionInfo(c.Request.Context(), sub)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"links":            info.Links,
		"subscription_url": info.SubscriptionURL,
	})
}

// SubscriptionTraffic reports remote usage counters
func (h *Handler) SubscriptionTraffic(c *gin.Context) {
	sub, ok := h.subFromPath(c)
	if !ok {
		return
	}
	stats, err := h.lifecycle.Traffic(c.Request.Context(), sub)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"up":          stats.Up,
		"down":        stats.Down,
		"total":       stats.Total,
		"expiry_time": stats.ExpiryTime,
		"enabled":     stats.Enabled,
	})
}

func (h *Handler) subFromPath(c *gin.Context) (*models.Subscription, bool) {
	id, ok := idFromPath(c)
	if !ok {
		return nil, false
	}
	sub, err := h.subs.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sub, true
}

func idFromPath(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) subscriptionResponse(s *models.Subscription) gin.H {
	resp := gin.H{
		"id":           s.ID,
		"member_id":    s.MemberID,
		"token":        s.Token,
		"plan_id":      s.PlanID,
		"node_id":      s.NodeID,
		"inbound_id":   s.InboundID,
		"config_name":  s.ConfigName,
		"config_uuid":  s.ConfigUUID,
		"protocol":     s.Protocol,
		"expires_at":   s.ExpiresAt,
		"connect_link": s.ConnectLink,
		"status":       s.Status,
		"relay_mode":   s.RelayMode,
		"created_at":   s.CreatedAt,
	}
	if h.publicURL != "" {
		resp["subscription_url"] = h.publicURL + "/sub/" + s.Token
	}
	return resp
}

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsCapacity(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case isValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsAuth(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func isValidation(err error) bool {
	var e *apperrors.ValidationError
	return errors.As(err, &e)
}
