package main

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/someip-core/pkg/core"
	"github.com/cuemby/someip-core/pkg/endpoint"
	"github.com/cuemby/someip-core/pkg/endpoint/admin"
	"github.com/cuemby/someip-core/pkg/ids"
	"github.com/cuemby/someip-core/pkg/log"
	"github.com/cuemby/someip-core/pkg/metrics"
	"github.com/cuemby/someip-core/pkg/security"
	"github.com/cuemby/someip-core/pkg/someipconfig"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the routing manager: TCP endpoint, metrics, and admin RPC",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("network", "default", "Network name this instance routes for")
	serveCmd.Flags().String("config", "", "Path to a someipconfig YAML file (defaults applied if omitted)")
	serveCmd.Flags().String("run-dir", ".", "Directory for the client-id bbolt database")
	serveCmd.Flags().String("listen-addr", ":30509", "TCP address the routing manager accepts SOME/IP connections on")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics and pprof listen address")
	serveCmd.Flags().String("admin-addr", "127.0.0.1:9091", "gRPC admin/inspection listen address")
	serveCmd.Flags().Bool("enable-pprof", false, "Expose net/http/pprof endpoints on metrics-addr")
	serveCmd.Flags().Duration("watchdog-interval", 0, "Periodic watchdog tick interval (0 disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	network, _ := cmd.Flags().GetString("network")
	configPath, _ := cmd.Flags().GetString("config")
	runDir, _ := cmd.Flags().GetString("run-dir")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
	watchdogInterval, _ := cmd.Flags().GetDuration("watchdog-interval")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := ids.OpenBoltStore(runDir, network)
	if err != nil {
		return fmt.Errorf("open client id store: %w", err)
	}
	defer store.Close()
	pool := ids.NewPool(network, cfg.DiagnosisAddress(), cfg.DiagnosisMask(), store)

	policy := buildPolicy(cfg.Security())
	router := endpoint.NewTCPRouter(listenAddr, nil)

	facade, err := core.NewCoreFacade(cfg, router, policy, pool, log.WithComponent("core"))
	if err != nil {
		return fmt.Errorf("create core facade: %w", err)
	}

	clientID, err := facade.Init(network)
	if err != nil {
		return fmt.Errorf("init routing manager: %w", err)
	}
	fmt.Printf("someip-routingd starting: network=%s client_id=%#04x\n", network, uint16(clientID))

	if watchdogInterval > 0 {
		facade.SetWatchdogHandler(func() {
			log.WithComponent("watchdog").Debug().Msg("tick")
		}, watchdogInterval)
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("ids", true, fmt.Sprintf("routing host, client_id=%#04x", uint16(clientID)))
	metrics.RegisterComponent("registry", false, "starting")
	metrics.RegisterComponent("dispatcher", false, "starting")

	if err := facade.Start(); err != nil {
		return fmt.Errorf("start routing manager: %w", err)
	}
	fmt.Printf("✓ TCP endpoint listening on %s\n", listenAddr)
	metrics.RegisterComponent("registry", true, "ready")
	metrics.RegisterComponent("dispatcher", true, "ready")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if pprofEnabled {
			// net/http/pprof registers its handlers on http.DefaultServeMux.
			mux.Handle("/debug/pprof/", http.DefaultServeMux)
			fmt.Printf("✓ pprof endpoints enabled at http://%s/debug/pprof/\n", metricsAddr)
		}
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.WithComponent("metrics").Error().Err(err).Msg("metrics server stopped")
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
	fmt.Printf("✓ Health endpoints: http://%s/health, /ready, /live\n", metricsAddr)

	grpcServer := grpc.NewServer()
	admin.RegisterServer(grpcServer, facade)
	adminLis, err := net.Listen("tcp", adminAddr)
	if err != nil {
		return fmt.Errorf("listen admin addr: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(adminLis); err != nil {
			log.WithComponent("admin").Error().Err(err).Msg("admin server stopped")
		}
	}()
	fmt.Printf("✓ Admin RPC listening on %s\n", adminAddr)

	fmt.Println("Routing manager is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	grpcServer.GracefulStop()
	if err := facade.Stop(); err != nil {
		return fmt.Errorf("stop routing manager: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}

func loadConfig(path string) (*someipconfig.StaticConfig, error) {
	if path == "" {
		return someipconfig.ParseYAML(nil)
	}
	return someipconfig.LoadYAML(path)
}

func buildPolicy(sec someipconfig.SecurityConfig) security.Policy {
	if !sec.Enabled {
		return security.AllowAllPolicy{}
	}
	if sec.External {
		log.WithComponent("security").Warn().
			Msg("security.external requested but no external policy source is wired; falling back to allow-all")
	}
	if sec.Audit {
		return security.NewAuditPolicy(security.AllowAllPolicy{})
	}
	return security.AllowAllPolicy{}
}
