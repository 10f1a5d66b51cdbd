// Command zulipbridge runs the standalone Matrix<->Zulip puppeting bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/palpo-im/zulipbridge/internal/bridge"
	"github.com/palpo-im/zulipbridge/internal/config"
	"github.com/palpo-im/zulipbridge/internal/ghost"
	"github.com/palpo-im/zulipbridge/internal/logging"
	"github.com/palpo-im/zulipbridge/internal/matrixclient"
	"github.com/palpo-im/zulipbridge/internal/matrixingest"
	"github.com/palpo-im/zulipbridge/internal/retention"
	"github.com/palpo-im/zulipbridge/internal/store"
	"github.com/palpo-im/zulipbridge/internal/store/postgres"
	"github.com/palpo-im/zulipbridge/internal/zulipclient"
	"github.com/palpo-im/zulipbridge/internal/zulipingest"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("zulipbridge", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the bridge's YAML configuration file")
	generate := fs.Bool("generate", false, "write a Matrix appservice registration file to --config and exit")
	generateCompat := fs.Bool("generate-compat", false, "like --generate, adding a second bot-user regex for alternate servers")
	listenAddress := fs.String("listen-address", "", "override bridge.listen_address (env BRIDGE_LISTEN_ADDRESS)")
	listenPort := fs.Int("listen-port", 0, "override bridge.listen_port (env BRIDGE_LISTEN_PORT)")
	homeserver := fs.String("homeserver", "", "override bridge.homeserver (env HOMESERVER_URL)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	unsafeMode := fs.Bool("unsafe-mode", false, "log an unsafe-mode warning at startup; outbound TLS verification is not changed")
	owner := fs.String("owner", "", "override bridge.owner (env BRIDGE_OWNER)")
	reset := fs.Bool("reset", false, "purge all bridge configuration from the database and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *generate || *generateCompat {
		return runGenerate(*configPath, *generateCompat)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "zulipbridge:", err)
		return 1
	}
	applyOverrides(cfg, *listenAddress, *listenPort, *homeserver, *owner)

	level := cfg.Logging.Level
	if *verbose {
		level = "debug"
	}
	log := logging.New(level, cfg.Logging.Pretty)

	if *unsafeMode {
		log.Warn().Msg("unsafe mode requested; this build still verifies outbound TLS certificates")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.Open(ctx, cfg.Database.DSN, cfg.Limits.DBMaxConns)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return 1
	}
	defer st.Close()

	if *reset {
		if err := st.Reset(ctx); err != nil {
			log.Error().Err(err).Msg("failed to reset database")
			return 1
		}
		log.Info().Msg("database reset complete")
		return 0
	}

	if err := ensureOrganization(ctx, st, cfg); err != nil {
		log.Error().Err(err).Msg("failed to provision organization record")
		return 1
	}

	confirmServerName(ctx, cfg, log)

	matrixClient := matrixclient.New(cfg.Bridge.Homeserver, cfg.Registration.ASToken, cfg.Bridge.Domain, log, matrixclient.DefaultRateLimitConfig())
	zulipClient := zulipclient.New(cfg.Zulip.SiteURL, cfg.Zulip.BotEmail, cfg.Zulip.APIKey, log)

	profile, err := zulipClient.GetProfile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch zulip bot profile")
		return 1
	}

	ghosts := ghost.New(matrixClient, st, cfg.Bridge.Domain, cfg.Bridge.GhostPrefix, log)

	br := bridge.New(matrixClient, zulipClient, st, ghosts, bridge.Config{
		OrganizationID:  cfg.Bridge.Domain,
		BotMatrixUserID: fmt.Sprintf("@%s:%s", cfg.Registration.SenderLocalpart, cfg.Bridge.Domain),
		BotZulipUserID:  profile.UserID,
		SplitByTopic:    cfg.Room.SplitByTopic,
		DefaultTopic:    cfg.Room.DefaultTopic,
		AliasPrefix:     cfg.Room.AliasPrefix,
	}, log)

	sweeper := retention.New(st, cfg.Limits.RetentionPeriod(), log)
	if err := sweeper.Start(ctx, "0 3 * * *"); err != nil {
		log.Error().Err(err).Msg("failed to start retention sweep")
		return 1
	}
	defer sweeper.Stop()

	ingestServer := matrixingest.New(matrixingest.Config{
		HSToken:  cfg.Registration.HSToken,
		AgeLimit: cfg.Bridge.AgeLimit(),
	}, br.MatrixHandlers(), log)

	addr := fmt.Sprintf("%s:%d", cfg.Bridge.ListenAddress, cfg.Bridge.ListenPort)
	httpServer := &http.Server{Addr: addr, Handler: ingestServer, ReadHeaderTimeout: 10 * time.Second}

	serverErrs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting appservice transaction listener")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	zulipEvents := make(chan zulipclient.Event, 256)
	ingestErrs := make(chan error, 1)
	go func() {
		var err error
		switch cfg.Zulip.Transport {
		case "websocket":
			ws := zulipingest.NewWSClient(cfg.Zulip.SiteURL, cfg.Zulip.APIKey, log)
			err = ws.Run(ctx, zulipEvents)
		default:
			poller := zulipingest.NewPoller(zulipClient, zulipingest.PollerConfig{PollInterval: cfg.Zulip.PollInterval()}, log)
			err = poller.Run(ctx, zulipEvents)
		}
		if err != nil && ctx.Err() == nil {
			ingestErrs <- err
		}
	}()
	go zulipingest.Run(ctx, zulipEvents, br.ZulipHandlers(), log)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErrs:
		log.Error().Err(err).Msg("appservice listener failed")
		stop()
	case err := <-ingestErrs:
		log.Error().Err(err).Msg("zulip ingest loop exhausted its reconnect budget")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("appservice listener did not shut down cleanly")
	}

	return 0
}

func runGenerate(path string, compat bool) int {
	opts := config.GenerateRegistrationOptions{
		Path:            path,
		URL:             "http://localhost:29318",
		SenderLocalpart: "zulipbridge",
		Domain:          "example.org",
		Compat:          compat,
	}
	if err := config.GenerateRegistration(opts); err != nil {
		fmt.Fprintln(os.Stderr, "zulipbridge:", err)
		return 1
	}
	fmt.Println("wrote registration file to", path)
	return 0
}

func applyOverrides(cfg *config.Config, listenAddress string, listenPort int, homeserver, owner string) {
	if listenAddress == "" {
		listenAddress = os.Getenv("BRIDGE_LISTEN_ADDRESS")
	}
	if listenAddress != "" {
		cfg.Bridge.ListenAddress = listenAddress
	}

	if listenPort == 0 {
		if envPort := os.Getenv("BRIDGE_LISTEN_PORT"); envPort != "" {
			if parsed, err := strconv.Atoi(envPort); err == nil {
				listenPort = parsed
			}
		}
	}
	if listenPort != 0 {
		cfg.Bridge.ListenPort = listenPort
	}

	if homeserver == "" {
		homeserver = os.Getenv("HOMESERVER_URL")
	}
	if homeserver != "" {
		cfg.Bridge.Homeserver = homeserver
	}

	if owner == "" {
		owner = os.Getenv("BRIDGE_OWNER")
	}
	if owner != "" {
		cfg.Bridge.Owner = owner
	}
}

// confirmServerName discovers the server name the configured homeserver
// actually presents (via .well-known, falling back to the URL's hostname)
// and warns if it disagrees with bridge.domain, catching a misconfigured
// appservice registration before any ghost gets registered under it.
func confirmServerName(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	discovery := matrixclient.NewServerDiscovery(log)
	discovered, err := discovery.DiscoverServerName(ctx, cfg.Bridge.Homeserver, "")
	if err != nil {
		log.Warn().Err(err).Msg("failed to discover matrix server name, trusting configured bridge.domain")
		return
	}
	if matrixclient.NormalizeServerName(discovered) != matrixclient.NormalizeServerName(cfg.Bridge.Domain) {
		log.Warn().
			Str("configured_domain", cfg.Bridge.Domain).
			Str("discovered_domain", discovered).
			Msg("bridge.domain does not match the homeserver's discovered server name")
	}
}

func ensureOrganization(ctx context.Context, st store.Store, cfg *config.Config) error {
	existing, err := st.Organizations().GetByOrgID(ctx, cfg.Bridge.Domain)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = st.Organizations().Create(ctx, &store.Organization{
		OrgID:             cfg.Bridge.Domain,
		DisplayName:       cfg.Bridge.Domain,
		ZulipSiteURL:      cfg.Zulip.SiteURL,
		BotEmail:          cfg.Zulip.BotEmail,
		APIKey:            cfg.Zulip.APIKey,
		Connected:         true,
		MaxBackfillAmount: cfg.Limits.MaxBackfillAmount,
	})
	return err
}
