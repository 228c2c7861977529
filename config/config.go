// Package config loads the treemap server configuration.
//
// Values come from, in increasing precedence: built-in defaults, a TOML file,
// and environment variables. The Mapbox key may finally be prompted for on a
// terminal.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"treemap/codec"
	"treemap/logging"
)

// Config is the resolved server configuration.
type Config struct {
	Addr            string // HTTP listen address (page, assets, WebSocket)
	StreamAddr      string // Framed TCP listen address; empty disables it
	StreamCodec     string // "json" or "binary"
	Heartbeat       time.Duration
	ShutdownTimeout time.Duration

	DataFile      string
	WatchData     bool // Reload DataFile when it changes
	InfoCacheFile string
	StaticDir     string
	DistDir       string
	CORSOrigins   []string // Empty allows any origin

	MapboxAPIKey       string
	MeaningCloudAPIKey string
	WikipediaURL       string
	MeaningCloudURL    string

	RateLimit float64 // Calls per second per connection; 0 disables
	RateBurst int

	Versions string // Accepted client protocol versions, semver constraint

	Log  logging.Config
	Etcd EtcdConfig
}

// EtcdConfig controls registry advertisement. With no endpoints the server
// does not advertise.
type EtcdConfig struct {
	Endpoints []string
	TTL       int64
	Advertise string // Public host clients should dial; ports come from the listen addresses
	Weight    int
}

func Default() Config {
	return Config{
		Addr:            ":4055",
		StreamCodec:     "json",
		Heartbeat:       10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		DataFile:        "res/data.geojson",
		WatchData:       true,
		InfoCacheFile:   "res/infoCache.json",
		StaticDir:       "static",
		DistDir:         "dist",
		WikipediaURL:    "https://en.wikipedia.org",
		MeaningCloudURL: "https://api.meaningcloud.com/summarization-1.0",
		RateBurst:       20,
		Versions:        "^1.0.0",
		Etcd:            EtcdConfig{TTL: 10, Weight: 1},
	}
}

type fileConfig struct {
	Addr            string   `toml:"addr"`
	StreamAddr      string   `toml:"stream_addr"`
	StreamCodec     string   `toml:"stream_codec"`
	Heartbeat       string   `toml:"heartbeat"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	DataFile        string   `toml:"data_file"`
	WatchData       bool     `toml:"watch_data"`
	InfoCacheFile   string   `toml:"info_cache_file"`
	StaticDir       string   `toml:"static_dir"`
	DistDir         string   `toml:"dist_dir"`
	CORSOrigins     []string `toml:"cors_origins"`
	MapboxAPIKey    string   `toml:"mapbox_api_key"`
	MeaningCloudKey string   `toml:"meaningcloud_api_key"`
	WikipediaURL    string   `toml:"wikipedia_url"`
	MeaningCloudURL string   `toml:"meaningcloud_url"`
	RateLimit       float64  `toml:"rate_limit"`
	RateBurst       int      `toml:"rate_burst"`
	Versions        string   `toml:"versions"`
	Log             fileLog  `toml:"log"`
	Etcd            fileEtcd `toml:"etcd"`
}

type fileLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type fileEtcd struct {
	Endpoints []string `toml:"endpoints"`
	TTL       int64    `toml:"ttl"`
	Advertise string   `toml:"advertise"`
	Weight    int      `toml:"weight"`
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	str := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("addr", raw.Addr, &c.Addr)
	str("stream_addr", raw.StreamAddr, &c.StreamAddr)
	str("stream_codec", raw.StreamCodec, &c.StreamCodec)
	if err := dur("heartbeat", raw.Heartbeat, &c.Heartbeat); err != nil {
		return err
	}
	if err := dur("shutdown_timeout", raw.ShutdownTimeout, &c.ShutdownTimeout); err != nil {
		return err
	}
	str("data_file", raw.DataFile, &c.DataFile)
	if meta.IsDefined("watch_data") {
		c.WatchData = raw.WatchData
	}
	str("info_cache_file", raw.InfoCacheFile, &c.InfoCacheFile)
	str("static_dir", raw.StaticDir, &c.StaticDir)
	str("dist_dir", raw.DistDir, &c.DistDir)
	if meta.IsDefined("cors_origins") {
		c.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	str("mapbox_api_key", raw.MapboxAPIKey, &c.MapboxAPIKey)
	str("meaningcloud_api_key", raw.MeaningCloudKey, &c.MeaningCloudAPIKey)
	str("wikipedia_url", raw.WikipediaURL, &c.WikipediaURL)
	str("meaningcloud_url", raw.MeaningCloudURL, &c.MeaningCloudURL)
	if meta.IsDefined("rate_limit") {
		c.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		c.RateBurst = raw.RateBurst
	}
	str("versions", raw.Versions, &c.Versions)
	if meta.IsDefined("log", "level") {
		c.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		c.Log.Format = strings.TrimSpace(raw.Log.Format)
	}

	if meta.IsDefined("etcd", "endpoints") {
		c.Etcd.Endpoints = normalizeList(raw.Etcd.Endpoints)
	}
	if meta.IsDefined("etcd", "ttl") {
		c.Etcd.TTL = raw.Etcd.TTL
	}
	if meta.IsDefined("etcd", "advertise") {
		c.Etcd.Advertise = strings.TrimSpace(raw.Etcd.Advertise)
	}
	if meta.IsDefined("etcd", "weight") {
		c.Etcd.Weight = raw.Etcd.Weight
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up with lookup:
// MAPBOX_API_KEY, MEANINGCLOUD_API_KEY, TREEMAP_ADDR, TREEMAP_LOG_LEVEL and
// TREEMAP_ETCD_ENDPOINTS (comma separated).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("MAPBOX_API_KEY", &c.MapboxAPIKey)
	set("MEANINGCLOUD_API_KEY", &c.MeaningCloudAPIKey)
	set("TREEMAP_ADDR", &c.Addr)
	set("TREEMAP_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("TREEMAP_ETCD_ENDPOINTS"); ok && strings.TrimSpace(v) != "" {
		c.Etcd.Endpoints = normalizeList(strings.Split(v, ","))
	}
}

// Validate reports every invalid setting. A missing Mapbox key is not an
// error here; PromptMapboxKey handles it.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := codec.ParseType(c.StreamCodec); err != nil {
		errs = append(errs, err)
	}
	if c.Heartbeat < 0 {
		errs = append(errs, errors.New("heartbeat must not be negative"))
	}
	if c.DataFile == "" {
		errs = append(errs, errors.New("data_file must not be empty"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("rate_burst must be at least 1 when rate_limit is set"))
	}
	if _, err := semver.NewConstraint(c.Versions); err != nil {
		errs = append(errs, fmt.Errorf("versions: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(c.Etcd.Endpoints) > 0 && c.Etcd.TTL <= 0 {
		errs = append(errs, errors.New("etcd ttl must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// PromptMapboxKey asks for the Mapbox key on out and reads one line from in
// when none is configured.
func (c *Config) PromptMapboxKey(in io.Reader, out io.Writer) error {
	if c.MapboxAPIKey != "" {
		return nil
	}
	fmt.Fprint(out, "Mapbox API key: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read mapbox key: %w", err)
	}
	c.MapboxAPIKey = strings.TrimSpace(line)
	if c.MapboxAPIKey == "" {
		return errors.New("no mapbox api key configured")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
