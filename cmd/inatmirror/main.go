package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openfield/inatmirror/internal/cache"
	"github.com/openfield/inatmirror/internal/inat"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		user      string
		endpoint  string
		dataDir   string
		workers   int
		batchSize int
		timeout   time.Duration
		logFile   string
	)

	cmd := &cobra.Command{
		Use:   "inatmirror",
		Short: "Mirror one iNaturalist user's records into a local cache",
		Long: `inatmirror keeps a local copy of everything a single iNaturalist user
owns: their user record, observations, and every entity those embed
(taxa, photos, comments, identifications, ...), each cached in its own
file and kept current with conditional requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(user) == "" {
				return fmt.Errorf("user is required (--user or INATMIRROR_USER)")
			}

			client, err := inat.New(inat.Options{
				BaseURL:    endpoint,
				HTTPClient: &http.Client{Timeout: timeout},
				Store:      cache.NewStore(dataDir),
				Logger:     newLogger(logFile),
				Workers:    workers,
				BatchSize:  batchSize,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return client.SyncAll(ctx, strings.TrimSpace(user))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&user, "user", "u", os.Getenv("INATMIRROR_USER"), "iNaturalist login to mirror")
	flags.StringVar(&endpoint, "endpoint", envOrDefault("INATMIRROR_ENDPOINT", "https://api.inaturalist.org/v1"), "API endpoint")
	flags.StringVar(&dataDir, "data-dir", envOrDefault("INATMIRROR_DATA_DIR", "data"), "cache directory")
	flags.IntVar(&workers, "workers", intEnv("INATMIRROR_WORKERS", 5), "concurrent fetch workers per batch")
	flags.IntVar(&batchSize, "batch-size", intEnv("INATMIRROR_BATCH_SIZE", 20), "observations per normalization batch")
	flags.DurationVar(&timeout, "timeout", durationEnv("INATMIRROR_TIMEOUT", 30*time.Second), "per-request timeout")
	flags.StringVar(&logFile, "log-file", os.Getenv("INATMIRROR_LOG_FILE"), "optional rotating log file (in addition to stderr)")
	return cmd
}

func newLogger(logFile string) *log.Logger {
	var w io.Writer = os.Stderr
	if strings.TrimSpace(logFile) != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		})
	}
	return log.New(w, "[inatmirror] ", log.LstdFlags)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
