// Command janitord is the publisher daemon (Components C, D, E, F):
// it runs the publish_pending / reconciler loop on an interval and serves
// the control-plane HTTP surface, per spec.md §6's CLI flag list.
//
// Grounded on cmd/devdashboard/main.go's cobra root-command layout
// (PersistentPreRunE installing logging, one RunE doing the work), adapted
// from a one-shot report generator into a long-running daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/threatcode/janitor/internal/logging"
	"github.com/threatcode/janitor/pkg/config"
	"github.com/threatcode/janitor/pkg/controlplane"
	"github.com/threatcode/janitor/pkg/hoster"
	"github.com/threatcode/janitor/pkg/publisher"
	"github.com/threatcode/janitor/pkg/ratelimit"
	"github.com/threatcode/janitor/pkg/reconciler"
	"github.com/threatcode/janitor/pkg/store"
	"github.com/threatcode/janitor/pkg/vcsstore"
)

var version = "dev"

type daemonFlags struct {
	maxMPSPerMaintainer int
	dryRun              bool
	vcsResultDir        string
	policyFile          string
	prometheusURL       string
	once                bool
	listenAddress       string
	port                int
	intervalSeconds     int
	noAutoPublish       bool
	debug               bool
	verbose             bool
}

var flags daemonFlags

func main() {
	root := newRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "janitord",
		Short:   "Bulk source-package modification and publication control plane",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.InitJSON(logging.Verbosity{Debug: flags.debug, Verbose: flags.verbose})
			return nil
		},
		RunE: runDaemon,
	}

	cmd.Flags().IntVar(&flags.maxMPSPerMaintainer, "max-mps-per-maintainer", 0, "Cap on open proposals per maintainer (0 = no limit)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Skip the publish and reconcile passes entirely")
	cmd.Flags().StringVar(&flags.vcsResultDir, "vcs-result-dir", "", "Local directory backing the VCS Store")
	cmd.Flags().StringVar(&flags.policyFile, "policy", "", "Policy YAML file (required)")
	cmd.Flags().StringVar(&flags.prometheusURL, "prometheus", "", "Prometheus pushgateway URL (optional; metrics are not pushed to it)")
	cmd.Flags().BoolVar(&flags.once, "once", false, "Run a single publish+reconcile pass and exit")
	cmd.Flags().StringVar(&flags.listenAddress, "listen-address", "0.0.0.0", "Control-plane HTTP bind address")
	cmd.Flags().IntVar(&flags.port, "port", 9912, "Control-plane HTTP port")
	cmd.Flags().IntVar(&flags.intervalSeconds, "interval", 7200, "Seconds between driver-loop passes")
	cmd.Flags().BoolVar(&flags.noAutoPublish, "no-auto-publish", false, "Serve the control plane but never run the automatic driver loop")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	_ = cmd.MarkFlagRequired("policy")

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if flags.once && flags.noAutoPublish {
		return errors.New("--once and --no-auto-publish are mutually exclusive")
	}

	cfg, err := config.LoadFromFile(flags.policyFile)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return fmt.Errorf("validating policy: %w", err)
	}

	db, err := store.Open(flags.vcsResultDir + "/janitor.db")
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	vcs := vcsstore.NewLocalDirStore(flags.vcsResultDir)
	registry := hoster.NewRegistry()
	wireHosters(registry)

	var limiter ratelimit.Limiter
	if flags.maxMPSPerMaintainer <= 0 {
		limiter = ratelimit.NoLimit{}
	} else {
		maintainerCap := ratelimit.NewPerMaintainerCap(flags.maxMPSPerMaintainer)
		counts, err := db.OpenCountsByMaintainer()
		if err != nil {
			return fmt.Errorf("seeding rate limiter: %w", err)
		}
		maintainerCap.SetOpenCounts(counts)
		limiter = maintainerCap
	}

	pub := publisher.New(db, vcs, registry, limiter, cfg)
	recon := reconciler.New(db, registry, pub, limiter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.once {
		runPass(ctx, pub, recon)
		return nil
	}

	server := controlplane.New(pub, db, limiter)
	httpServer := &http.Server{Addr: fmt.Sprintf("%s:%d", flags.listenAddress, flags.port), Handler: server}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "control-plane server error: %v\n", err)
		}
	}()
	defer httpServer.Shutdown(context.Background())

	if flags.noAutoPublish {
		<-ctx.Done()
		return nil
	}

	interval := time.Duration(flags.intervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runPass(ctx, pub, recon)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runPass(ctx, pub, recon)
		}
	}
}

func runPass(ctx context.Context, pub *publisher.Publisher, recon *reconciler.Reconciler) {
	if flags.dryRun {
		return
	}
	pub.PublishPending(ctx)
	if _, err := recon.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reconciler pass failed: %v\n", err)
	}
}

// wireHosters registers GitHub/GitLab clients from GITHUB_TOKEN/GITLAB_TOKEN
// environment variables, mirroring the teacher's per-provider client
// construction pattern in pkg/repository/repository.go.
func wireHosters(registry *hoster.Registry) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		client, err := hoster.NewGitHubClient(hoster.Config{Token: token})
		if err == nil {
			registry.Register("github.com", client)
		}
	}
	if token := os.Getenv("GITLAB_TOKEN"); token != "" {
		client, err := hoster.NewGitLabClient(hoster.Config{Token: token, BaseURL: "https://gitlab.com"})
		if err == nil {
			registry.Register("gitlab.com", client)
		}
	}
	if token := os.Getenv("SALSA_TOKEN"); token != "" {
		client, err := hoster.NewGitLabClient(hoster.Config{Token: token, BaseURL: "https://salsa.debian.org"})
		if err == nil {
			registry.Register("salsa.debian.org", client)
		}
	}
}
