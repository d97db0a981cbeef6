package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/cbt/internal/bank"
	"github.com/pavelanni/cbt/internal/engine"
	"github.com/pavelanni/cbt/internal/handler"
	appI18n "github.com/pavelanni/cbt/internal/i18n"
	"github.com/pavelanni/cbt/internal/llm"
	"github.com/pavelanni/cbt/internal/llm/prompts"
	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cbt",
		Short: "Computer-based testing server for school examinations",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(path)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before reading CBT_* variables")

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), sweepCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `cbt --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "cbt.db", "SQLite database path")
	f.String("catalog", "", "Path to a subjects/terms/classrooms JSON file imported at startup")
	f.StringSliceP("questions", "q", nil, "Paths to question bank JSON files (repeatable)")
	f.String("llm-url", "", "OpenAI-compatible API base URL for essay suggestions (empty disables them)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Essay suggestion prompt variant (strict, standard, lenient)")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /cbt)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("sweep-interval", 30*time.Second, "How often overdue attempts on auto-submit exams are expired")
	f.String("admin-password", "", "Initial admin password (or set CBT_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the ranked results of an exam as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "cbt.db", "SQLite database path")
	f.Int64("exam-id", 0, "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("exam-id")

	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire and grade overdue attempts once, then exit",
		RunE:  runSweep,
	}
	f := cmd.Flags()
	f.String("db", "cbt.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

// loadEnvFile loads a dotenv file if it exists. Variables already set in the
// environment are not overridden.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CBT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cbt")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/cbt")
	v.AddConfigPath("/etc/cbt")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	interval := v.GetDuration("sweep-interval")
	if interval <= 0 {
		return fmt.Errorf("sweep-interval must be positive, got %s", interval)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if path := v.GetString("catalog"); path != "" {
		if err := loadCatalog(ctx, db, path); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}
	if err := loadQuestions(ctx, db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var suggester handler.Suggester
	if url := v.GetString("llm-url"); url != "" {
		promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(promptVariant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
			promptVariant = string(prompts.PromptStandard)
		}
		llmClient, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), promptVariant)
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		if err := llmClient.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"), "variant", promptVariant)
		suggester = llmClient
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	eng := engine.New(db, nil)
	h := handler.New(db, eng, suggester, model.ServerConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr, "lang", lang, "base_path", basePath, "essay_suggestions", suggester != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return eng.Run(gctx, interval)
	})
	g.Go(func() error {
		return cleanupSessions(gctx, db, time.Hour)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// cleanupSessions deletes expired login sessions every interval.
func cleanupSessions(ctx context.Context, db *store.Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := db.CleanupExpiredSessions(ctx); err != nil {
				slog.Error("failed to clean up auth sessions", "error", err)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := engine.New(db, nil).ExportExam(ctx, v.GetInt64("exam-id"))
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported exam results", "exam_id", export.ExamID, "students", len(export.Results))
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := engine.New(db, nil).Sweep(cmd.Context())
	slog.Info("sweep finished", "expired", n)
	return err
}

func loadCatalog(ctx context.Context, db *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var c model.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := db.ImportCatalog(ctx, c); err != nil {
		return err
	}
	slog.Info("imported catalog", "path", path,
		"subjects", len(c.Subjects), "terms", len(c.Terms), "classrooms", len(c.Classrooms))
	return nil
}

// loadQuestions imports question files once. A file whose content changed
// since its import is skipped so that questions already used by attempts are
// not duplicated; revisions go through the question API instead.
func loadQuestions(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping to avoid duplicating questions",
				"path", path)
			continue
		}

		var records []model.QuestionImport
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for i, rec := range records {
			q, err := bank.FromImport(rec)
			if err != nil {
				return fmt.Errorf("question %d in %s: %w", i, path, err)
			}
			if _, err := db.InsertQuestion(ctx, q); err != nil {
				return fmt.Errorf("insert question from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(records))
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return errors.New("admin password is required: set --admin-password flag or CBT_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
