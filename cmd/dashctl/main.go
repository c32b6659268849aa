package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dogwood/dashboard-client/internal/config"
	"github.com/dogwood/dashboard-client/internal/service/auth"
	"github.com/dogwood/dashboard-client/internal/service/session"
)

var (
	envFile string
	verbose bool

	success = color.New(color.FgGreen, color.Bold).SprintFunc()
	failure = color.New(color.FgRed, color.Bold).SprintFunc()
	accent  = color.New(color.FgCyan, color.Bold).SprintFunc()
	muted   = color.New(color.FgHiBlack).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "dashctl",
	Short:         "Dashboard client from the terminal",
	Long:          `Sign in to the analytics backend, inspect the stored session and chat with the AI assistant.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env") {
			fmt.Fprintf(os.Stderr, "%s failed to load %s: %v\n", failure("warning:"), envFile, err)
		}
		if !verbose {
			log.SetOutput(nopWriter{})
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show service logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", failure("error:"), err)
		os.Exit(1)
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// app holds the services one command invocation needs.
type app struct {
	cfg   *config.Config
	store *session.Store
	auth  *auth.Service
	close func() error
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	repo, closeRepo, err := session.OpenRepository(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("open session repository: %w", err)
	}

	store := session.NewStore(repo)
	if err := store.Load(ctx); err != nil {
		_ = closeRepo()
		return nil, err
	}

	client := auth.NewClient(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout})
	return &app{
		cfg:   cfg,
		store: store,
		auth:  auth.NewService(client, store, cfg.Session.Ordering == config.OrderingSequence),
		close: closeRepo,
	}, nil
}

// withApp opens the app for the duration of run.
func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return run(ctx, a, args)
	}
}
