// Package main provides invoicectl, a local front end to invoice extraction
// and question answering over a throwaway in-memory session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/invoicesession/internal/config"
	"github.com/Lllllllleong/invoicesession/internal/metrics"
	"github.com/Lllllllleong/invoicesession/internal/services"
	"github.com/Lllllllleong/invoicesession/internal/session"
)

type globalFlags struct {
	configPath string
	logLevel   string
	offline    bool
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "invoicectl",
		Short: "Extract and query invoices locally",
		Long: `invoicectl runs document extraction and chat against an in-memory session.

With PROJECT_ID set, Vertex AI models are used for extraction and answers.
Without it, or with --offline, only pattern extraction and templated answers
are available.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags.logLevel)
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML, defaults to $INVOICE_CONFIG)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.offline, "offline", false, "Never call a model")

	cmd.AddCommand(extractCmd(&flags), askCmd(&flags))
	return cmd
}

func extractCmd(flags *globalFlags) *cobra.Command {
	var (
		docType  string
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract the structured record from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := uploadFile(cmd.Context(), svc, "", args[0], docType, validate)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"document":        filepath.Base(args[0]),
				"structured_data": res.Record,
				"validation":      res.Validation,
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "invoice", "Document type passed to the extraction prompts")
	cmd.Flags().BoolVar(&validate, "validate", false, "Cross-check the record against the text")
	return cmd
}

func askCmd(flags *globalFlags) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about one or more documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}
			ctx := cmd.Context()
			svc, err := newService(ctx, flags)
			if err != nil {
				return err
			}
			defer svc.Close()

			sessionID := ""
			for _, f := range files {
				res, err := uploadFile(ctx, svc, sessionID, f, "", false)
				if err != nil {
					return err
				}
				sessionID = res.SessionID
			}

			ans, err := svc.Ask(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			if len(ans.Sources) > 0 {
				names := make([]string, len(ans.Sources))
				for i, s := range ans.Sources {
					names[i] = s.Filename
				}
				fmt.Fprintf(out, "\nSources: %s (%s mode)\n", strings.Join(names, ", "), ans.Mode)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Document to load into the session (repeatable)")
	return cmd
}

// newService builds a service that keeps everything in memory.
func newService(ctx context.Context, flags *globalFlags) (*services.InvoiceService, error) {
	path := flags.configPath
	if path == "" {
		path = os.Getenv("INVOICE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Session.Backend = config.BackendMemory
	cfg.Session.ReapInterval = -1
	cfg.DocumentBucket = ""
	cfg.Workflow.ID = ""

	if flags.offline || cfg.ProjectID == "" {
		slog.Info("Running without model access")
		store := session.NewStore(session.Config{TTL: cfg.Session.TTL, ReapInterval: -1}, session.MemoryBackend{})
		return services.NewInvoiceService(services.Dependencies{
			Store:   store,
			Objects: services.NewMemoryObjectStore(),
			Closers: []io.Closer{store},
		}), nil
	}
	return services.New(ctx, cfg, metrics.New())
}

func uploadFile(ctx context.Context, svc *services.InvoiceService, sessionID, path, docType string, validate bool) (*services.UploadResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return svc.UploadDocument(ctx, services.UploadRequest{
		SessionID: sessionID,
		Filename:  filepath.Base(path),
		Data:      data,
		DocType:   docType,
		Validate:  validate,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogging(level string) {
	lvl := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
