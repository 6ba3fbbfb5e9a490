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

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/adapters/brokertls"
	"github.com/mikey-austin/spotispy/internal/adapters/clock"
	"github.com/mikey-austin/spotispy/internal/adapters/idgen"
	"github.com/mikey-austin/spotispy/internal/adapters/mqttserver"
	"github.com/mikey-austin/spotispy/internal/lighting"
	embeddedmqtt "github.com/mikey-austin/spotispy/internal/modules/embedded_mqtt"
	"github.com/mikey-austin/spotispy/internal/modules/nowplaying"
	"github.com/mikey-austin/spotispy/internal/modules/remote"
	"github.com/mikey-austin/spotispy/internal/playback"
	"github.com/mikey-austin/spotispy/internal/ports"
	"github.com/mikey-austin/spotispy/internal/spotify"
	"github.com/mikey-austin/spotispy/internal/spotispyd"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// bus is the MQTT surface shared by the daemon modules.
type bus interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
	Announce(topic string, presence sp.Presence) error
}

func main() {
	var (
		configPath  string
		broker      string
		identity    string
		topicBase   string
		logLevel    string
		logFormat   string
		logOutput   string
		logSource   bool
		logUTC      bool
		logColor    bool
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := spotispyd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&identity, "identity", "", "server identity override")
	flag.StringVar(&topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (console|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&logSource, "log-source", false, "include caller in logs")
	flag.BoolVar(&logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.BoolVar(&logColor, "log-color", false, "enable colored log levels (console only)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := spotispyd.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, broker, identity, topicBase, logLevel, logFormat, logOutput, logSource, logUTC, logColor)

	if printConfig {
		printResolvedConfig(cfg)
		return
	}
	if dryRun {
		if err := validateConfig(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := spotispyd.NewLogger(spotispyd.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embeddedURL := embeddedBrokerURL(cfg)
	skipEmbedded := false
	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedURL {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			logger.Error("embedded mqtt failed", zap.Error(err))
			os.Exit(1)
		}
		skipEmbedded = true
	}

	if cfg.Server.Broker == "" && !(moduleOnly == "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled) {
		logger.Error("broker is required")
		os.Exit(1)
	}
	logger.Info("spotispyd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("config", configPath),
		zap.Int("accounts", len(cfg.Spotify.RefreshKeys)),
		zap.Strings("rooms", cfg.Spotify.Rooms),
		zap.Strings("modules", enabledModules(cfg)),
	)

	var client bus
	if moduleOnly != "embedded_mqtt" {
		mc, err := mqttserver.NewClient(mqttserver.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  fmt.Sprintf("spotispyd-%d", time.Now().UnixNano()),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLS:       brokertls.Files{CA: cfg.Server.TLS.CA, Cert: cfg.Server.TLS.Cert, Key: cfg.Server.TLS.Key},
			TopicBase: cfg.Server.TopicBase,
			Timeout:   2 * time.Second,
			Logger:    logger.With(zap.String("component", "mqtt")),
			Debug:     cfg.Server.LogLevel == "debug",
			Node:      nowPlayingNode(cfg),
		})
		if err != nil {
			logger.Error("mqtt connection failed", zap.Error(err))
			os.Exit(1)
		}
		defer mc.Close()
		client = mc
	}

	modules, err := buildModules(cfg, configPath, client, logger, moduleOnly, skipEmbedded)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}

	supervisor := spotispyd.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *spotispyd.Config, broker string, identity string, topicBase string, logLevel string, logFormat string, logOutput string, logSource bool, logUTC bool, logColor bool) {
	if broker != "" {
		cfg.Server.Broker = broker
	}
	if identity != "" {
		cfg.Server.Identity = identity
	}
	if topicBase != "" {
		cfg.Server.TopicBase = topicBase
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Server.LogFormat = logFormat
	}
	if logOutput != "" {
		cfg.Server.LogOutput = logOutput
	}
	if logSource {
		cfg.Server.LogSource = true
	}
	if logUTC {
		cfg.Server.LogUTC = true
	}
	if logColor {
		cfg.Server.LogColor = true
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = sp.BaseTopic
	}
	if cfg.Server.Identity == "" {
		cfg.Server.Identity = "default"
	}
	if cfg.Modules.NowPlaying.NodeID == "" {
		cfg.Modules.NowPlaying.NodeID = "sp:nowplaying:" + cfg.Server.Identity
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
}

func validateConfig(cfg spotispyd.Config) error {
	if cfg.Modules.NowPlaying.Enabled || cfg.Modules.Remote.Enabled {
		if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" {
			return errors.New("spotify client_id and client_secret are required")
		}
	}
	if cfg.Lighting.Enabled {
		switch cfg.Lighting.Backend {
		case lighting.BackendHueHS, lighting.BackendHueXY, lighting.BackendOpenHue, lighting.BackendLIFX:
		default:
			return fmt.Errorf("unknown lighting backend %q", cfg.Lighting.Backend)
		}
	}
	return nil
}

func buildModules(cfg spotispyd.Config, configPath string, client bus, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]spotispyd.ModuleRunner, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	modules := []spotispyd.ModuleRunner{}
	wants := func(name string) bool { return moduleOnly == "" || moduleOnly == name }

	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded && wants("embedded_mqtt") {
		mod, err := newEmbeddedModule(cfg, logger)
		if err != nil {
			return nil, err
		}
		modules = append(modules, spotispyd.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
	}

	clk := clock.Clock{}
	spotifyCfg := spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		AccountsURL:  cfg.Spotify.AccountsURL,
		APIURL:       cfg.Spotify.APIURL,
		Timeout:      cfg.Spotify.RequestTimeout(),
		Clock:        clk,
	}
	store := spotispyd.NewFileStore(configPath)

	if cfg.Modules.NowPlaying.Enabled && wants("nowplaying") {
		log := logger.With(zap.String("module", "nowplaying"))
		driver, err := buildLighting(cfg, log)
		if err != nil {
			return nil, err
		}
		np, err := nowplaying.NewModule(log, client, spotify.NewClient(spotifyCfg, nil), store, driver, clk, nowplaying.Config{
			NodeID:    cfg.Modules.NowPlaying.NodeID,
			TopicBase: cfg.Server.TopicBase,
			Engine: playback.Config{
				RefreshKeys:      cfg.Spotify.RefreshKeys,
				Rooms:            cfg.Spotify.Rooms,
				PollInterval:     cfg.Spotify.PollInterval(),
				ProgressInterval: cfg.Spotify.ProgressInterval(),
				RequestTimeout:   cfg.Spotify.RequestTimeout(),
			},
			PruneRevoked: cfg.Modules.NowPlaying.PruneRevoked,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, spotispyd.ModuleRunner{Name: "nowplaying", Run: np.Run})

		if cfg.Modules.NowPlaying.WatchConfig {
			watchLog := logger.With(zap.String("module", "config_watch"))
			modules = append(modules, spotispyd.ModuleRunner{
				Name: "config_watch",
				Run: func(ctx context.Context) error {
					return spotispyd.WatchConfig(ctx, watchLog, configPath, func(next spotispyd.Config) {
						np.Reload(ports.Settings{RefreshKeys: next.Spotify.RefreshKeys, Rooms: next.Spotify.Rooms})
					})
				},
			})
		}
	}

	if cfg.Modules.Remote.Enabled && wants("remote") {
		publicURI := cfg.Modules.Remote.PublicURI
		if publicURI == "" {
			publicURI = "http://localhost" + remote.DefaultListen
		}
		mod, err := remote.NewModule(logger.With(zap.String("module", "remote")), client, store,
			spotify.NewAuthorizer(spotifyCfg, remote.RedirectURL(publicURI)),
			idgen.Generator{}, clk, remote.Config{
				Listen:    cfg.Modules.Remote.Listen,
				PublicURI: publicURI,
				StaticDir: cfg.Modules.Remote.StaticDir,
				ClientID:  cfg.Spotify.ClientID,
				NodeID:    cfg.Modules.NowPlaying.NodeID,
				TopicBase: cfg.Server.TopicBase,
				Identity:  cfg.Server.Identity,
			})
		if err != nil {
			return nil, err
		}
		modules = append(modules, spotispyd.ModuleRunner{Name: "remote", Run: mod.Run})
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func buildLighting(cfg spotispyd.Config, logger *zap.Logger) (*lighting.Driver, error) {
	if !cfg.Lighting.Enabled {
		return nil, nil
	}
	timeout := cfg.Lighting.Timeout()
	httpClient := &http.Client{Timeout: timeout}
	lamp, err := lighting.OpenLamp(lighting.LampConfig{
		Backend:  cfg.Lighting.Backend,
		Bridge:   cfg.Lighting.Bridge,
		Username: cfg.Lighting.Username,
		LightID:  cfg.Lighting.LightID,
		Label:    cfg.Lighting.Label,
		Timeout:  timeout,
	}, httpClient)
	if err != nil {
		return nil, err
	}
	return lighting.NewDriver(logger.With(zap.String("component", "lighting")), lighting.NewArtwork(httpClient), []lighting.Lamp{lamp}, timeout), nil
}

func enabledModules(cfg spotispyd.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	if cfg.Modules.NowPlaying.Enabled {
		out = append(out, "nowplaying")
		if cfg.Modules.NowPlaying.WatchConfig {
			out = append(out, "config_watch")
		}
	}
	if cfg.Modules.Remote.Enabled {
		out = append(out, "remote")
	}
	return out
}

func printResolvedConfig(cfg spotispyd.Config) {
	fmt.Fprintf(os.Stdout,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s accounts=%d rooms=%v lighting=%t backend=%s modules=%v\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		len(cfg.Spotify.RefreshKeys),
		cfg.Spotify.Rooms,
		cfg.Lighting.Enabled,
		cfg.Lighting.Backend,
		enabledModules(cfg),
	)
}

// nowPlayingNode is the presence the broker marks offline when the daemon
// drops off without a clean shutdown.
func nowPlayingNode(cfg spotispyd.Config) *sp.Presence {
	if !cfg.Modules.NowPlaying.Enabled {
		return nil
	}
	return &sp.Presence{NodeID: cfg.Modules.NowPlaying.NodeID, Kind: "nowplaying"}
}

func embeddedListen(cfg spotispyd.Config) string {
	if cfg.Modules.EmbeddedMQTT.Listen == "" {
		return embeddedmqtt.DefaultListen
	}
	return cfg.Modules.EmbeddedMQTT.Listen
}

func embeddedTLS(cfg spotispyd.Config) brokertls.Files {
	e := cfg.Modules.EmbeddedMQTT
	return brokertls.Files{CA: e.TLSCA, Cert: e.TLSCert, Key: e.TLSKey}
}

func embeddedBrokerURL(cfg spotispyd.Config) string {
	return embeddedmqtt.BrokerURL(embeddedListen(cfg), embeddedTLS(cfg).Enabled())
}

func newEmbeddedModule(cfg spotispyd.Config, logger *zap.Logger) (*embeddedmqtt.Module, error) {
	return embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
		TopicBase:      cfg.Server.TopicBase,
		Listen:         cfg.Modules.EmbeddedMQTT.Listen,
		AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.Modules.EmbeddedMQTT.Username,
		Password:       cfg.Modules.EmbeddedMQTT.Password,
		TLS:            embeddedTLS(cfg),
	})
}

func startEmbeddedBroker(ctx context.Context, cfg spotispyd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := newEmbeddedModule(cfg, logger)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()
	return waitForListen(embeddedListen(cfg), 3*time.Second)
}

func waitForListen(listen string, timeout time.Duration) error {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, port)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("embedded mqtt not ready at %s", addr)
}
