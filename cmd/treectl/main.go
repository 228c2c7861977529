// Command treectl issues treemap calls from the command line and prints the
// results as JSON.
//
//	treectl GetMapCenter
//	treectl -tcp localhost:4056 -codec binary GetTreeInfoAtPoint -122.3 47.65
//	treectl -etcd localhost:2379 -balance hash -key $USER GetMapBounds
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"treemap/calls"
	"treemap/client"
	"treemap/codec"
	"treemap/loadbalance"
	"treemap/logging"
	"treemap/protocol"
	"treemap/registry"
	"treemap/schema"
	"treemap/transport"
)

type options struct {
	addr      string
	tcp       string
	codec     string
	heartbeat time.Duration
	etcd      string
	via       string
	balance   string
	key       string
	timeout   time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "ws://localhost:4055/rpc", "WebSocket URL of a treemap server")
	flag.StringVar(&opts.tcp, "tcp", "", "host:port of a framed stream listener; overrides -addr")
	flag.StringVar(&opts.codec, "codec", "json", "stream codec: json or binary")
	flag.DurationVar(&opts.heartbeat, "heartbeat", 10*time.Second, "stream heartbeat interval; 0 disables")
	flag.StringVar(&opts.etcd, "etcd", "", "comma separated etcd endpoints to discover servers from")
	flag.StringVar(&opts.via, "via", "websocket", "transport to use for discovered servers: websocket or stream")
	flag.StringVar(&opts.balance, "balance", "roundrobin", "server choice: roundrobin, weighted or hash")
	flag.StringVar(&opts.key, "key", "", "key for -balance hash")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "give up waiting after this long")
	verbose := flag.Bool("v", false, "log at debug level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: treectl [flags] <call> [lng lat]\n\ncalls: %s\n\n", strings.Join(calls.Catalog.Names(), ", "))
		flag.PrintDefaults()
	}
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.NewTo(os.Stderr, "treectl", logging.Config{Level: level})
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	c, err := connect(ctx, opts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect")
	}
	defer c.Close()

	result, err := invoke(ctx, c, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		logger.Fatal().Err(err).Str("call", flag.Arg(0)).Msg("call failed")
	}
	if err := printJSON(os.Stdout, result); err != nil {
		logger.Fatal().Err(err).Send()
	}
}

// connect dials the server named by opts, discovering it through etcd when
// endpoints are given.
func connect(ctx context.Context, opts options, logger zerolog.Logger) (*client.Client, error) {
	if opts.etcd != "" {
		reg, err := registry.NewEtcdRegistry(strings.Split(opts.etcd, ","), 5*time.Second)
		if err != nil {
			return nil, err
		}
		defer reg.Close()
		inst, err := pick(ctx, reg, opts.via, opts.balance, opts.key)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("addr", inst.Addr).Str("transport", inst.Transport).Msg("discovered server")
		switch inst.Transport {
		case "stream":
			opts.tcp, opts.codec = inst.Addr, inst.Codec
		default:
			opts.addr, opts.tcp = inst.Addr, ""
		}
	}

	if opts.tcp != "" {
		ct, err := codec.ParseType(opts.codec)
		if err != nil {
			return nil, err
		}
		st, err := transport.DialStream("tcp", opts.tcp, ct, opts.heartbeat)
		if err != nil {
			return nil, err
		}
		return client.New(st, client.WithCodec(st.Codec()), client.WithLogger(logger)), nil
	}

	u, err := withVersion(opts.addr)
	if err != nil {
		return nil, err
	}
	origin := "http://" + u.Host
	if u.Scheme == "wss" {
		origin = "https://" + u.Host
	}
	ws, err := transport.DialWebSocket(ctx, u.String(), origin)
	if err != nil {
		return nil, err
	}
	return client.New(ws, client.WithLogger(logger)), nil
}

// withVersion adds ?v= so the server can refuse an incompatible client.
func withVersion(addr string) (*url.URL, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("bad server address %q: %w", addr, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bad server address %q: scheme must be ws or wss", addr)
	}
	q := u.Query()
	q.Set("v", protocol.SemVer)
	u.RawQuery = q.Encode()
	return u, nil
}

// pick discovers the instances reachable over via and lets the balancer
// choose one.
func pick(ctx context.Context, reg registry.Registry, via, strategy, key string) (*registry.Instance, error) {
	b, err := loadbalance.New(strategy, key)
	if err != nil {
		return nil, err
	}
	all, err := reg.Discover(ctx, registry.ServiceName)
	if err != nil {
		return nil, err
	}
	instances := registry.Filter(all, via)
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w over %s", registry.ErrNoInstances, via)
	}
	return b.Pick(instances)
}

// invoke runs the named call. GetTreeInfoAtPoint takes "lng lat".
func invoke(ctx context.Context, c *client.Client, name string, args []string) (any, error) {
	switch name {
	case calls.GetMapboxToken.Name:
		return client.Connect(c, calls.GetMapboxToken).Call(ctx, schema.Null{})
	case calls.GetMapBounds.Name:
		return client.Connect(c, calls.GetMapBounds).Call(ctx, schema.Null{})
	case calls.GetMapCenter.Name:
		return client.Connect(c, calls.GetMapCenter).Call(ctx, schema.Null{})
	case calls.GetTreeInfoAtPoint.Name:
		pt, err := parsePoint(args)
		if err != nil {
			return nil, err
		}
		return client.Connect(c, calls.GetTreeInfoAtPoint).Call(ctx, pt)
	default:
		return nil, fmt.Errorf("unknown call %q (want one of %s)", name, strings.Join(calls.Catalog.Names(), ", "))
	}
}

func parsePoint(args []string) (calls.Point, error) {
	if len(args) != 2 {
		return calls.Point{}, errors.New("GetTreeInfoAtPoint needs two arguments: lng lat")
	}
	lng, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return calls.Point{}, fmt.Errorf("lng: %w", err)
	}
	lat, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return calls.Point{}, fmt.Errorf("lat: %w", err)
	}
	return calls.Point{Lng: lng, Lat: lat}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
