package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/ckhsu1225/vvmviz/internal/cache"
	"github.com/ckhsu1225/vvmviz/internal/config"
	"github.com/ckhsu1225/vvmviz/internal/controller"
	"github.com/ckhsu1225/vvmviz/internal/iogate"
	"github.com/ckhsu1225/vvmviz/internal/loader"
	"github.com/ckhsu1225/vvmviz/internal/metrics"
	"github.com/ckhsu1225/vvmviz/internal/store"
	"github.com/ckhsu1225/vvmviz/internal/vvm"
	"github.com/ckhsu1225/vvmviz/pkg/api"
	"github.com/ckhsu1225/vvmviz/pkg/health"
	"github.com/ckhsu1225/vvmviz/pkg/retry"
	"github.com/ckhsu1225/vvmviz/pkg/types"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the top-level command structure for vvmviz.
type CLI struct {
	Version kong.VersionFlag `help:"Show version." short:"V"`
	Serve   ServeCmd         `cmd:"" help:"Start the dashboard API server."`
	Scan    ScanCmd          `cmd:"" help:"List a simulation's variables and time steps."`
	Push    PushCmd          `cmd:"" help:"Upload a simulation directory to the S3 archive."`
}

// ServeCmd starts the API server over the configured simulation store.
type ServeCmd struct {
	Config  string `help:"Path to config file." type:"path" short:"c"`
	Addr    string `help:"Listen address (host:port), overriding the config."`
	DataDir string `help:"Local data root, overriding the config." type:"path"`
}

// Run wires config, store, reader, cache, controller, metrics and the API
// server together and blocks until interrupted.
func (s *ServeCmd) Run() error {
	cfg, err := loadConfig(s.Config)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if s.DataDir != "" {
		cfg.Data.Root = s.DataDir
	}
	if s.Addr != "" {
		if err := overrideAddr(cfg, s.Addr); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	gate := iogate.New()
	reader, err := vvm.NewReader(vvm.NewNetCDFBackend(), gate, cfg.Data.HandleCache, log)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer reader.Close()

	frameCache := cache.New(&cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		Prefetch:   cfg.Cache.Prefetch,
	}, log)
	defer frameCache.Close()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: "vvmviz",
		Interval:  cfg.Metrics.Interval,
	}, frameCache, log)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	collector.Start(ctx)

	ld := loader.New(reader, gate, log)
	ctrl := controller.New(st, reader, ld, frameCache, collector, log)

	tracker := newHealthTracker(log)
	go tracker.StartHealthChecks(ctx, func(component string) error {
		if component != "store" {
			return nil
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return st.HealthCheck(checkCtx)
	})

	apiCfg := serverConfig(cfg)
	server := api.NewServer(apiCfg, ctrl, tracker, collector.Handler(), log)

	server.StartBackground()
	log.Info("vvmviz %s serving on %s (data root: %s)", version, apiCfg.Address, cfg.Data.Root)

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown: %v", err)
		return err
	}
	return nil
}

// ScanCmd stages a simulation if needed and prints its menu.
type ScanCmd struct {
	Config  string `help:"Path to config file." type:"path" short:"c"`
	DataDir string `help:"Local data root, overriding the config." type:"path"`
	Sim     string `arg:"" help:"Simulation name or path."`
}

// Run loads the simulation through a throwaway controller and prints the
// scanned variable groups and time steps.
func (s *ScanCmd) Run() error {
	cfg, err := loadConfig(s.Config)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if s.DataDir != "" {
		cfg.Data.Root = s.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	// Keep the log quiet; scan output goes to stdout.
	log := utils.NewLogger(utils.WARN, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	gate := iogate.New()
	reader, err := vvm.NewReader(vvm.NewNetCDFBackend(), gate, cfg.Data.HandleCache, log)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer reader.Close()

	c := cache.New(&cache.Config{MaxEntries: 1, Prefetch: false}, log)
	defer c.Close()

	ctrl := controller.New(st, reader, loader.New(reader, gate, log), c, nil, log)

	info, err := ctrl.LoadSimulation(ctx, s.Sim)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	return printSimulation(os.Stdout, info)
}

// PushCmd uploads a local simulation directory to the configured bucket.
type PushCmd struct {
	Config string `help:"Path to config file." type:"path" short:"c"`
	Dir    string `arg:"" help:"Local simulation directory to upload." type:"existingdir"`
	Name   string `help:"Archive name; defaults to the directory basename."`
}

// Run publishes the directory through the S3 mirror.
func (p *PushCmd) Run() error {
	cfg, err := loadConfig(p.Config)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if !cfg.Data.S3.Enabled {
		return fmt.Errorf("push: data.s3.enabled must be set (the archive bucket is the upload target)")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror, err := store.NewS3Mirror(ctx, s3StoreConfig(cfg))
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	name := p.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(p.Dir))
	}

	if err := mirror.Publish(ctx, p.Dir, name); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	fmt.Printf("Published %s to s3://%s\n", name, cfg.Data.S3.Bucket)
	return nil
}

// loadConfig builds the configuration from defaults, an optional file and
// VVMVIZ_* environment overrides. Without an explicit path the search order
// is ./vvmviz.yaml, then ~/.vvmviz/config.yaml.
func loadConfig(explicit string) (*config.Configuration, error) {
	cfg := config.NewDefault()

	path := explicit
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{"vvmviz.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".vvmviz", "config.yaml"))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// overrideAddr applies a host:port listen override onto the configuration.
func overrideAddr(cfg *config.Configuration, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid --addr port %q: %w", portStr, err)
	}
	cfg.Server.Host = host
	cfg.Server.Port = port
	return nil
}

func newLogger(cfg config.LoggingConfig) (*utils.Logger, error) {
	level, err := utils.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out := io.Writer(os.Stdout)
	if cfg.File != "" {
		rotator, err := utils.NewLogRotator(utils.RotationConfig{
			Filename:   cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = rotator
	}
	return utils.NewLogger(level, out), nil
}

// buildStore selects the simulation store: the plain data root, or the S3
// mirror staging into it when the archive bucket is enabled.
func buildStore(ctx context.Context, cfg *config.Configuration) (types.Store, error) {
	if cfg.Data.S3.Enabled {
		return store.NewS3Mirror(ctx, s3StoreConfig(cfg))
	}
	return store.NewLocal(cfg.Data.Root)
}

func s3StoreConfig(cfg *config.Configuration) *store.Config {
	s3 := cfg.Data.S3
	return &store.Config{
		Bucket:          s3.Bucket,
		Prefix:          s3.Prefix,
		Region:          s3.Region,
		Endpoint:        s3.Endpoint,
		UsePathStyle:    s3.UsePathStyle,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		SessionToken:    s3.SessionToken,
		StagingDir:      cfg.Data.StagingDir,
		Concurrency:     s3.Concurrency,
		Retry: retry.Config{
			MaxAttempts:  s3.Retry.MaxAttempts,
			InitialDelay: s3.Retry.BaseDelay,
			MaxDelay:     s3.Retry.MaxDelay,
		},
	}
}

func serverConfig(cfg *config.Configuration) api.ServerConfig {
	sc := api.DefaultServerConfig()
	sc.Address = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	sc.ReadTimeout = cfg.Server.ReadTimeout
	sc.WriteTimeout = cfg.Server.WriteTimeout
	sc.EnableCORS = cfg.Server.EnableCORS
	sc.Version = version
	return sc
}

// newHealthTracker registers the data backends and logs state transitions.
func newHealthTracker(log *utils.Logger) *health.Tracker {
	tracker := health.NewTracker(health.DefaultConfig())
	tracker.RegisterComponent("store")
	tracker.RegisterComponent("reader")

	logTransition := func(component string, oldState, newState health.HealthState, err error) {
		if err != nil {
			log.Warn("Component %s: %s -> %s: %v", component, oldState, newState, err)
			return
		}
		log.Info("Component %s: %s -> %s", component, oldState, newState)
	}
	for _, state := range []health.HealthState{health.StateHealthy, health.StateDegraded, health.StateUnavailable} {
		tracker.AddStateChangeCallback(state, logTransition)
	}
	return tracker
}

// printSimulation renders the scan result: time coverage first, then the
// variable menu in group order.
func printSimulation(w io.Writer, info *types.SimulationInfo) error {
	fmt.Fprintf(w, "Simulation: %s\n", info.Name)
	fmt.Fprintf(w, "Path:       %s\n", info.Path)

	if len(info.TimeIndices) > 0 {
		first := info.TimeIndices[0]
		last := info.TimeIndices[len(info.TimeIndices)-1]
		fmt.Fprintf(w, "Time steps: %d (t=%06d .. t=%06d)\n", len(info.TimeIndices), first, last)
	} else {
		fmt.Fprintf(w, "Time steps: 0\n")
	}

	for _, g := range info.Groups {
		fmt.Fprintf(w, "\n%s\n", g.Label)
		for _, v := range g.Variables {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("vvmviz"),
		kong.Description("Interactive dashboard backend for VVM atmospheric simulations."),
		kong.Vars{"version": fmt.Sprintf("vvmviz %s (%s, %s)", version, commit, date)},
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
