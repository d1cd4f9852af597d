package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/knosi/internal/logger"
	"github.com/markdave123-py/knosi/internal/syncclient"
)

type options struct {
	server      string
	vault       string
	apiKey      string
	debounce    time.Duration
	initialSync bool
	timeout     time.Duration
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "knosi-sync",
		Short: "Watch a local folder and sync its documents to a knosi server",
		Long: `Uploads every supported document under the vault folder, then watches the
folder and uploads changed files or deletes removed ones on the server.
Files are identified on the server by their path relative to the vault.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.server, "server", "s", "", "server URL, e.g. https://knosi.example.com:48550")
	flags.StringVarP(&opts.vault, "vault", "v", "", "path to the local vault folder")
	flags.StringVarP(&opts.apiKey, "api-key", "k", os.Getenv("KNOSI_API_KEY"), "API key for authentication")
	flags.DurationVar(&opts.debounce, "debounce", 2*time.Second, "quiet period before a changed file is synced")
	flags.BoolVar(&opts.initialSync, "initial-sync", true, "upload all existing files on startup")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-request timeout; large files may take a while")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("vault")

	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	ctx := cmd.Context()
	log := logger.Init(opts.logLevel, "text")

	client := syncclient.NewClient(opts.server, opts.apiKey, opts.timeout)
	syncer, err := syncclient.NewSyncer(client, opts.vault, opts.debounce, log)
	if err != nil {
		return err
	}

	cmd.Printf("Knosi Sync Client\nServer: %s\nVault:  %s\n\n", opts.server, syncer.Vault())

	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	st, err := client.Status(statusCtx)
	cancel()
	if err != nil {
		if errors.Is(err, syncclient.ErrUnauthorized) {
			return fmt.Errorf("server requires an API key, check --api-key: %w", err)
		}
		return fmt.Errorf("cannot reach server at %s: %w", opts.server, err)
	}
	cmd.Printf("Server connected: %d documents, %d chunks\n\n", st.DocumentCount, st.ChunkCount)

	if opts.initialSync {
		n, err := syncer.InitialSync(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Initial sync complete: %d files processed\n\n", n)
	}

	cmd.Println("Watching for changes... (Ctrl+C to stop)")
	if err := syncer.Watch(ctx); err != nil {
		return err
	}
	cmd.Println("Done.")
	return nil
}
