package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/VoiceAgent/internal/app"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/dkeye/VoiceAgent/internal/grant"
	"github.com/dkeye/VoiceAgent/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// TokenHandler issues room grants.
type TokenHandler struct {
	// Signer is nil when no signing secret is configured.
	Signer       *grant.Signer
	TransportURL string
	TTL          time.Duration
	Limiter      *app.RateLimiter
	Metrics      *metrics.Metrics
}

type TokenRequest struct {
	RoomName string `json:"roomName" binding:"required,notblank"`
	Identity string `json:"identity" binding:"required,notblank"`
	Metadata string `json:"metadata"`
	// Kind is "normal" (default) or "agent".
	Kind string `json:"kind"`
}

type TokenResponse struct {
	Grant        string    `json:"grant"`
	TransportURL string    `json:"transportUrl"`
	RoomName     string    `json:"roomName"`
	Identity     string    `json:"identity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type errorResponse struct {
	Error         string   `json:"error"`
	MissingFields []string `json:"missingFields,omitempty"`
	Field         string   `json:"field,omitempty"`
}

// legacyTokenRequest is the body of the LiveKit-style /api/livekit/token endpoint.
type legacyTokenRequest struct {
	RoomName            string `json:"roomName" binding:"required,notblank"`
	ParticipantName     string `json:"participantName" binding:"required,notblank"`
	ParticipantMetadata string `json:"participantMetadata"`
}

type legacyTokenResponse struct {
	Token           string `json:"token"`
	URL             string `json:"url"`
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
}

func (h *TokenHandler) result(r string) {
	if h.Metrics != nil {
		h.Metrics.GrantsIssued.WithLabelValues(r).Inc()
	}
}

func (h *TokenHandler) allow(c *gin.Context) bool {
	ok, retry := h.Limiter.Allow(c.ClientIP())
	if ok {
		return true
	}
	h.result("rate_limited")
	c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
	c.JSON(http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
	return false
}

// missingFields lists the JSON names of required fields that failed binding.
func missingFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" || fe.Tag() == "notblank" {
			out = append(out, fe.Field())
		}
	}
	return out
}

func (h *TokenHandler) sign(c *gin.Context, req grant.Request) (grant.Grant, bool) {
	if h.Signer == nil {
		h.result("unconfigured")
		log.Error().Str("module", "adapters.http").Msg("grant requested but signing is not configured")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "signing not configured"})
		return grant.Grant{}, false
	}
	g, err := h.Signer.Sign(req)
	if err != nil {
		var fe *grant.FieldError
		switch {
		case errors.As(err, &fe) && errors.Is(err, errs.ErrValidation):
			h.result("invalid")
			c.JSON(http.StatusBadRequest, errorResponse{Error: fe.Err.Error(), Field: fe.Field})
		default:
			h.result("error")
			log.Error().Err(err).Str("module", "adapters.http").Msg("sign grant")
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to issue grant"})
		}
		return grant.Grant{}, false
	}
	h.result("ok")
	log.Info().
		Str("module", "adapters.http").
		Str("room", g.Claims.Room).
		Str("identity", g.Claims.Identity).
		Str("kind", string(g.Claims.Kind)).
		Str("grant_id", g.Claims.ID).
		Time("expires_at", g.Claims.ExpiresAt).
		Msg("grant issued")
	return g, true
}

// Issue handles POST /token.
func (h *TokenHandler) Issue(c *gin.Context) {
	if !h.allow(c) {
		return
	}
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.result("invalid")
		if missing := missingFields(err); len(missing) > 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "missing required fields", MissingFields: missing})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object"})
		return
	}

	g, ok := h.sign(c, grant.Request{
		Room:     strings.TrimSpace(req.RoomName),
		Identity: strings.TrimSpace(req.Identity),
		Metadata: req.Metadata,
		Kind:     domain.ParticipantKind(strings.TrimSpace(req.Kind)),
		TTL:      h.TTL,
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, TokenResponse{
		Grant:        g.Token,
		TransportURL: h.TransportURL,
		RoomName:     g.Claims.Room,
		Identity:     g.Claims.Identity,
		ExpiresAt:    g.Claims.ExpiresAt,
	})
}

// IssueLegacy handles POST /api/livekit/token for older clients.
func (h *TokenHandler) IssueLegacy(c *gin.Context) {
	if !h.allow(c) {
		return
	}
	var req legacyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.result("invalid")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Missing required fields",
			"required": []string{"roomName", "participantName"},
		})
		return
	}
	g, ok := h.sign(c, grant.Request{
		Room:     strings.TrimSpace(req.RoomName),
		Identity: strings.TrimSpace(req.ParticipantName),
		Metadata: req.ParticipantMetadata,
		TTL:      h.TTL,
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, legacyTokenResponse{
		Token:           g.Token,
		URL:             h.TransportURL,
		RoomName:        g.Claims.Room,
		ParticipantName: g.Claims.Identity,
	})
}
