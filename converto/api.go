package converto

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const apiQueryLimitDefault = 50

// API is the operational HTTP server: health, query history, pause/resume,
// and on-demand index runs. All endpoints except the health check require
// the configured bearer secret.
type API struct {
	bot        *Converto
	config     *APIConfig
	logger     *slog.Logger
	httpServer *http.Server
}

func newAPI(bot *Converto, config *APIConfig) *API {
	api := &API{
		bot:    bot,
		config: config,
		logger: newTintLogger(config.LogLevel, "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), api.requestLogger())

	if len(config.CORS.AllowOrigins) > 0 {
		engine.Use(
			cors.New(
				cors.Config{
					AllowOrigins:     config.CORS.AllowOrigins,
					AllowMethods:     config.CORS.AllowMethods,
					AllowHeaders:     config.CORS.AllowHeaders,
					ExposeHeaders:    config.CORS.ExposeHeaders,
					AllowCredentials: config.CORS.AllowCredentials,
					MaxAge:           config.CORS.MaxAge,
				},
			),
		)
	}
	if config.Development {
		pprof.Register(engine)
	}

	engine.GET("/api/health", api.health)

	authorized := engine.Group("/api", api.requireSecret())
	authorized.GET("/queries", api.queries)
	authorized.POST("/sync", api.sync)
	authorized.POST("/pause", api.pause)
	authorized.POST("/resume", api.resume)

	api.httpServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return api
}

// Serve listens on the configured address and serves until ctx is canceled.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return err
	}
	a.logger.Info(
		"api listening",
		"network", a.config.ListenNetwork,
		"address", listener.Addr().String(),
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		if shutdownErr := a.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Warn("error shutting down api server", tint.Err(shutdownErr))
		}
	}()

	return a.httpServer.Serve(listener)
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		a.logger.Info(
			"request",
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"status", ctx.Writer.Status(),
			"elapsed", time.Since(start),
			"client_ip", ctx.ClientIP(),
		)
	}
}

func (a *API) requireSecret() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, ok := bearerToken(ctx.GetHeader("Authorization"))
		if !ok || subtle.ConstantTimeCompare(
			[]byte(token),
			[]byte(a.config.Secret),
		) != 1 {
			ctx.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "unauthorized"},
			)
			return
		}
		ctx.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func (a *API) health(ctx *gin.Context) {
	bot := a.bot
	ctx.JSON(
		http.StatusOK, gin.H{
			"status":              "ok",
			"version":             Version,
			"uptime":              time.Since(bot.startedAt).String(),
			"discord_connected":   bot.discord.connected.Load(),
			"paused":              bot.paused.Load(),
			"queries_in_progress": bot.queriesInProgress.Load(),
			"messages_handled":    bot.discord.metricMessagesHandled.Load(),
		},
	)
}

func (a *API) queries(ctx *gin.Context) {
	limit := apiQueryLimitDefault
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := a.bot.db.RecentQueries(ctx.Request.Context(), limit)
	if err != nil {
		a.logger.Error("error loading query records", tint.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"queries": records})
}

func (a *API) sync(ctx *gin.Context) {
	report, err := a.bot.Index(ctx.Request.Context())
	if err != nil {
		a.logger.Error("sync failed", tint.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, report)
}

func (a *API) pause(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"paused": true, "changed": a.bot.Pause()})
}

func (a *API) resume(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"paused": false, "changed": a.bot.Resume()})
}
