package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"scrapekit/internal/components/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
)

// Settings are shared by every command, they are read from SCRAPEKIT_* environment variables.
type Settings struct {
	Verbose   bool    `envconfig:"VERBOSE"`
	UserAgent string  `envconfig:"USER_AGENT"`
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"2"`
	// MessagesDir receives a dump of every http exchange when set.
	MessagesDir string `envconfig:"MESSAGES_DIR"`
	DBFile      string `envconfig:"DB_FILE"`
	DBUrl       string `envconfig:"DB_URL"`
	DBAuthToken string `envconfig:"DB_AUTH_TOKEN"`
}

func LoadSettings() (Settings, error) {
	var s Settings
	err := envconfig.Process("SCRAPEKIT", &s)
	if err != nil {
		return s, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

var settings Settings

var verbose *bool

func init() {
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug reports.")
}

var rootCmd = &cobra.Command{
	Use:   "scrapekit-cli",
	Short: "scrapekit-cli runs declarative scrapes and the bundled site scrapers.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		settings, err = LoadSettings()
		if err != nil {
			Fatal("failed to read settings", err)
		}
		telemetry.InitSlog(settings.Verbose || *verbose)
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SignalContext returns a context that lives until Ctrl+C is pressed.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return ctx
}

func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}

// messageOutput returns where http exchanges are dumped, nil disables it.
func messageOutput() telemetry.MessageOutput {
	if settings.MessagesDir == "" {
		return nil
	}
	out, err := telemetry.NewFilesystemOutput(settings.MessagesDir)
	if err != nil {
		slog.Warn("failed to create messages dir", "dir", settings.MessagesDir, "err", err)
		return nil
	}
	return out
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
