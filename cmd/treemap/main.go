// Command treemap serves the street tree map: the page, its assets and the
// typed calls the page makes over a WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"treemap/calls"
	"treemap/codec"
	"treemap/config"
	"treemap/infocache"
	"treemap/logging"
	"treemap/middleware"
	"treemap/protocol"
	"treemap/registry"
	"treemap/server"
	"treemap/service"
	"treemap/summary"
	"treemap/treeindex"
	"treemap/web"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	if err := run(*configPath, *debug); err != nil {
		log.Fatal().Err(err).Msg("treemap stopped")
	}
}

func run(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New("treemap", cfg.Log)
	if err != nil {
		return err
	}
	if err := cfg.PromptMapboxKey(os.Stdin, os.Stdout); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ix, err := logging.Time(logger, "load tree data file", func() (*treeindex.Index, error) {
		return treeindex.Load(cfg.DataFile)
	})
	if err != nil {
		return err
	}
	logger.Info().Int("trees", ix.Len()).Str("path", cfg.DataFile).Msg("tree data loaded")
	store := treeindex.NewStore(ix)
	if cfg.WatchData {
		go func() {
			if err := treeindex.Watch(ctx, cfg.DataFile, store, logger); err != nil {
				logger.Warn().Err(err).Msg("not watching tree data file")
			}
		}()
	}

	cache, _ := logging.Time(logger, "load wiki info cache from file", func() (*infocache.Cache, error) {
		return infocache.Open(cfg.InfoCacheFile, logger), nil
	})

	httpClient := &http.Client{Timeout: 20 * time.Second}
	var svcOpts []service.Option
	if cfg.MeaningCloudAPIKey != "" {
		svcOpts = append(svcOpts, service.WithSummarizer(summary.NewMeaningCloud(cfg.MeaningCloudURL, cfg.MeaningCloudAPIKey, httpClient)))
	}
	svc := service.New(cfg.MapboxAPIKey, store, cache, summary.NewWikipedia(cfg.WikipediaURL, httpClient), svcOpts...)

	versions, err := semver.NewConstraint(cfg.Versions)
	if err != nil {
		return err
	}
	srv, err := server.New(svc.Register,
		server.WithLogger(logger),
		server.WithCatalog(calls.Catalog),
		server.WithVersions(versions),
	)
	if err != nil {
		return err
	}
	srv.Use(middleware.Logging())
	srv.Use(middleware.Metrics(calls.Catalog))
	if cfg.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := web.NewRouter(web.Options{
		StaticDir:   cfg.StaticDir,
		DistDir:     cfg.DistDir,
		CORSOrigins: cfg.CORSOrigins,
		RPC:         srv.WebSocketHandler(),
		Logger:      logger,
		Ready: func() error {
			if store.Index() == nil {
				return errors.New("tree data not loaded")
			}
			return nil
		},
	})
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("serving")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if cfg.StreamAddr != "" {
		ct, _ := codec.ParseType(cfg.StreamCodec)
		l, err := net.Listen("tcp", cfg.StreamAddr)
		if err != nil {
			return err
		}
		logger.Info().Str("addr", l.Addr().String()).Str("codec", ct.String()).Msg("serving stream connections")
		go func() {
			if err := srv.ServeStream(l, ct, cfg.Heartbeat); !errors.Is(err, server.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	if len(cfg.Etcd.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, 5*time.Second)
		if err != nil {
			return err
		}
		defer reg.Close()
		instances, err := advertised(cfg)
		if err != nil {
			return err
		}
		if err := srv.Advertise(ctx, reg, cfg.Etcd.TTL, instances...); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errc:
		logger.Error().Err(err).Msg("listener failed, shutting down")
	}

	// http.Server.Shutdown does not close hijacked WebSocket connections.
	shutdownErr := srv.Shutdown(cfg.ShutdownTimeout)
	httpCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(shutdownErr, httpSrv.Shutdown(httpCtx))
}

// advertised lists the endpoints this process serves, as clients should dial
// them.
func advertised(cfg config.Config) ([]registry.Instance, error) {
	host := func(listen string) (string, error) {
		h, port, err := net.SplitHostPort(listen)
		if err != nil {
			return "", fmt.Errorf("advertise %s: %w", listen, err)
		}
		if cfg.Etcd.Advertise != "" {
			h = cfg.Etcd.Advertise
		} else if h == "" {
			h = "localhost"
		}
		return net.JoinHostPort(h, port), nil
	}

	wsAddr, err := host(cfg.Addr)
	if err != nil {
		return nil, err
	}
	out := []registry.Instance{{
		Addr:      "ws://" + wsAddr + web.RPCPath,
		Transport: "websocket",
		Codec:     "json",
		Weight:    cfg.Etcd.Weight,
		Version:   protocol.SemVer,
	}}
	if cfg.StreamAddr != "" {
		streamAddr, err := host(cfg.StreamAddr)
		if err != nil {
			return nil, err
		}
		out = append(out, registry.Instance{
			Addr:      streamAddr,
			Transport: "stream",
			Codec:     cfg.StreamCodec,
			Weight:    cfg.Etcd.Weight,
			Version:   protocol.SemVer,
		})
	}
	return out, nil
}
