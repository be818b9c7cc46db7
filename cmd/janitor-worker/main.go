// Command janitor-worker is the Worker Runtime (Component G): it claims one
// assignment at a time from the dispatcher, runs the recipe and build, mirrors
// the result into the VCS store, and uploads the outcome, per spec.md §4.7.
//
// Grounded on cmd/devdashboard/main.go's cobra root-command layout, adapted
// from janitord's daemon shape into a claim-until-idle worker loop; the
// `status` sub-command reuses pkg/report's console renderer against the same
// on-disk store janitord writes, per spec.md §6's worker CLI flag list.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/threatcode/janitor/internal/logging"
	"github.com/threatcode/janitor/pkg/report"
	"github.com/threatcode/janitor/pkg/report/format"
	"github.com/threatcode/janitor/pkg/store"
	"github.com/threatcode/janitor/pkg/vcsstore"
	"github.com/threatcode/janitor/pkg/worker"
)

var version = "dev"

type workerFlags struct {
	baseURL         string
	outputDirectory string
	credentialsFile string
	vcsLocation     string
	prometheusURL   string
	listenAddress   string
	port            int
	debug           bool
}

var flags workerFlags
var statusLimit int

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
		Use:     "janitor-worker",
		Short:   "Worker Runtime: claim and execute one assignment per pass",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.InitText(logging.Verbosity{Debug: flags.debug})
			return nil
		},
		RunE: runWorker,
	}

	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "Dispatcher/control-plane base URL (required)")
	cmd.Flags().StringVar(&flags.outputDirectory, "output-directory", "", "Parent directory for per-run temporary workspaces")
	cmd.Flags().StringVar(&flags.credentialsFile, "credentials", "", "JSON file {login,password} for dispatcher basic auth")
	cmd.Flags().StringVar(&flags.vcsLocation, "vcs-location", "", "Force a local VCS store rooted here instead of the assignment's vcs_store coordinates")
	cmd.Flags().StringVar(&flags.prometheusURL, "prometheus", "", "Prometheus pushgateway URL (optional; when set, /metrics is served locally and nothing is pushed)")
	cmd.Flags().StringVar(&flags.listenAddress, "listen-address", "0.0.0.0", "Metrics HTTP bind address")
	cmd.Flags().IntVar(&flags.port, "port", 9913, "Metrics HTTP port")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	_ = cmd.MarkFlagRequired("base-url")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Render a console table of recent runs from the on-disk store",
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&flags.vcsLocation, "vcs-location", "", "Local VCS store / janitor.db directory to read (required)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "Most recent runs to show (0 = no cap)")
	_ = statusCmd.MarkFlagRequired("vcs-location")
	cmd.AddCommand(statusCmd)

	return cmd
}

// credentials is the --credentials FILE shape named in spec.md §6.
type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func loadCredential(path string) (string, error) {
	if path == "" {
		login := os.Getenv("WORKER_NAME")
		password := os.Getenv("WORKER_PASSWORD")
		if login == "" {
			return "", nil
		}
		return login + ":" + password, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading credentials file: %w", err)
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parsing credentials file: %w", err)
	}
	return creds.Login + ":" + creds.Password, nil
}

func workerName(credential string) string {
	for i := 0; i < len(credential); i++ {
		if credential[i] == ':' {
			return credential[:i]
		}
	}
	if name := os.Getenv("WORKER_NAME"); name != "" {
		return name
	}
	return "janitor-worker"
}

func runWorker(cmd *cobra.Command, args []string) error {
	credential, err := loadCredential(flags.credentialsFile)
	if err != nil {
		return err
	}

	outputDir := flags.outputDirectory
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("preparing output directory: %w", err)
	}

	var vcs vcsstore.Store
	if flags.vcsLocation != "" {
		vcs = vcsstore.NewLocalDirStore(flags.vcsLocation)
	} else {
		vcs = &vcsstore.RemoteCacheStore{}
	}

	dispatcher := worker.NewHTTPDispatcher(flags.baseURL, credential)
	runner := worker.New(vcs, dispatcher, workerName(credential), outputDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		if runID := runner.CurrentRunID(); runID != "" {
			_ = runner.AbortRun(context.Background(), runID)
		}
	}()

	if flags.prometheusURL != "" || flags.port != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		httpServer := &http.Server{Addr: fmt.Sprintf("%s:%d", flags.listenAddress, flags.port), Handler: mux}
		go func() {
			_ = httpServer.ListenAndServe()
		}()
		defer httpServer.Shutdown(context.Background())
	}

	// Claim and execute assignments until the dispatcher reports none queued,
	// or the process is signalled to stop.
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		result, err := runner.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		if result == nil {
			return nil
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := store.Open(filepath.Join(flags.vcsLocation, "janitor.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	runs, err := db.ListRuns()
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	gen := report.NewGenerator()
	gen.Limit = statusLimit
	rpt := gen.Generate(runs)

	return format.NewConsoleFormatter().Render(rpt, os.Stdout)
}
