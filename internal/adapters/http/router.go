package http

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/adapters/signal"
	"github.com/dkeye/VoiceAgent/internal/app"
	"github.com/dkeye/VoiceAgent/internal/config"
	"github.com/dkeye/VoiceAgent/internal/grant"
	"github.com/dkeye/VoiceAgent/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Deps are the collaborators mounted by SetupRouter. Nil members disable
// the routes that need them, except Signer: a nil Signer keeps /token
// mounted and makes it answer 500.
type Deps struct {
	Signer  *grant.Signer
	Signal  *signal.SignalWSController
	Limiter *app.RateLimiter
	Metrics *metrics.Metrics
}

var validatorOnce sync.Once

// registerValidation reports binding failures under JSON field names and adds
// the notblank rule.
func registerValidation() {
	validatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("register notblank")
		}
	})
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidation()

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	tokens := &TokenHandler{
		Signer:       deps.Signer,
		TransportURL: cfg.TransportURL,
		TTL:          cfg.GrantTTL,
		Limiter:      deps.Limiter,
		Metrics:      deps.Metrics,
	}
	health := &HealthHandler{
		SigningConfigured:   deps.Signer != nil,
		TransportConfigured: cfg.TransportURL != "",
	}
	if deps.Signal != nil && deps.Signal.Orch != nil {
		health.Rooms = deps.Signal.Orch.Rooms
	}

	r.POST("/token", tokens.Issue)
	r.GET("/health", health.Health)

	api := r.Group("/api")
	api.POST("/livekit/token", tokens.IssueLegacy)
	api.GET("/health", health.HealthLegacy)

	if deps.Signal != nil {
		r.GET("/rtc", func(c *gin.Context) {
			deps.Signal.HandleSignal(ctx, c)
		})
	}
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	log.Info().
		Str("module", "adapters.http").
		Bool("signing_configured", deps.Signer != nil).
		Bool("signal", deps.Signal != nil).
		Msg("router setup")

	return r
}
