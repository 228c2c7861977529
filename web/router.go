// Package web builds the HTTP surface of treemap: the map page and its assets,
// the /rpc WebSocket endpoint, health and metrics.
package web

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"treemap/metrics"
)

// RPCPath is where the WebSocket endpoint is mounted.
const RPCPath = "/rpc"

// Options configures NewRouter.
type Options struct {
	StaticDir   string
	DistDir     string
	CORSOrigins []string // Empty allows any origin
	RPC         http.Handler
	Logger      zerolog.Logger
	// Ready reports whether the server can answer calls; nil means always.
	Ready func() error
}

// NewRouter returns the gin engine serving opts.
func NewRouter(opts Options) *gin.Engine {
	metrics.Register()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(opts.Logger))
	r.Use(RequestMetrics())
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	// The WebSocket upgrade hijacks the connection; it cannot be compressed.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{RPCPath})))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(opts.StaticDir, "index.html"))
	})
	r.StaticFile("/favicon.ico", filepath.Join(opts.StaticDir, "favicon.ico"))
	r.Static("/static", opts.StaticDir)
	if opts.DistDir != "" {
		r.Static("/dist", opts.DistDir)
	}

	if opts.RPC != nil {
		r.GET(RPCPath, gin.WrapH(opts.RPC))
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	started := time.Now()
	r.GET("/healthz", func(c *gin.Context) {
		if opts.Ready != nil {
			if err := opts.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
		})
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// RequestLogger logs one line per request, at warn for 4xx and error for 5xx.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

// RequestMetrics records every request in the HTTP histogram.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RecordHTTPRequest(c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// routePath prefers the matched route so that static files do not each get
// their own label.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
