package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	apperrors "github.com/benAliAlizadeh/mahsabot/internal/errors"
	"github.com/benAliAlizadeh/mahsabot/internal/link"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
	"github.com/benAliAlizadeh/mahsabot/internal/repository"
)

// renderedPayload is a cached subscription response
type renderedPayload struct {
	Body     string
	Name     string
	Title    string
	UserInfo string
}

// SubscriptionPayload serves the base64 link bundle that proxy clients
// poll. Unknown tokens 404 with no body so tokens cannot be probed for
// account details; Marzban-backed accounts redirect to the panel's own
// subscription endpoint.
func (h *Handler) SubscriptionPayload(c *gin.Context) {
	token := c.Param("token")

	if cached, found := h.payloads.Get(token); found {
		h.writePayload(c, cached.(*renderedPayload))
		return
	}

	sub, err := h.subs.GetByToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}

	backend, err := h.nodes.GetBackend(c.Request.Context(), sub.NodeID)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	info, err := h.lifecycle.ConnectionInfo(c.Request.Context(), sub)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.Status(http.StatusNotFound)
			return
		}
		h.logger.Errorf("Payload build failed for token %s: %v", token, err)
		c.Status(http.StatusBadGateway)
		return
	}

	if backend.Kind == models.PanelMarzban {
		if info.SubscriptionURL == "" {
			c.Status(http.StatusBadGateway)
			return
		}
		c.Redirect(http.StatusFound, info.SubscriptionURL)
		return
	}

	// traffic counters are best-effort; a stats failure must not break the
	// client's config refresh
	var up, down, total int64
	expire := sub.ExpiresAt
	if stats, err := h.lifecycle.Traffic(c.Request.Context(), sub); err == nil {
		up, down, total = stats.Up, stats.Down, stats.Total
		if stats.ExpiryTime > 0 {
			expire = stats.ExpiryTime / 1000
		}
	}

	payload := &renderedPayload{
		Body:     link.EncodeSubscription(info.Links),
		Name:     sub.ConfigName,
		Title:    link.ProfileTitle(sub.ConfigName),
		UserInfo: link.UserInfoHeader(up, down, total, expire),
	}
	h.payloads.Set(token, payload, cache.DefaultExpiration)
	h.writePayload(c, payload)
}

func (h *Handler) writePayload(c *gin.Context, p *renderedPayload) {
	c.Header("Content-Disposition", `attachment; filename="`+p.Name+`"`)
	c.Header("Profile-Title", p.Title)
	c.Header("Profile-Update-Interval", "12")
	c.Header("Subscription-Userinfo", p.UserInfo)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(p.Body))
}

// SubscriptionQR renders the primary connection link as a PNG QR code
func (h *Handler) SubscriptionQR(c *gin.Context) {
	token := c.Param("token")

	sub, err := h.subs.GetByToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}

	content := sub.ConnectLink
	if content == "" {
		info, err := h.lifecycle.ConnectionInfo(c.Request.Context(), sub)
		if err != nil || len(info.Links) == 0 {
			c.Status(http.StatusBadGateway)
			return
		}
		content = info.Links[0]
	}

	png, err := h.qr.GenerateQR(content)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
