package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loreline/internal/cache"
	"loreline/internal/config"
	"loreline/internal/db"
	"loreline/internal/domain"
	"loreline/internal/engine"
	"loreline/internal/eventbus"
	"loreline/internal/migrate"
	"loreline/internal/repo"
	"loreline/internal/server"
	"loreline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ll",
	Short: "Loreline CLI",
	Long: `Loreline is a personal knowledge base with directive-driven task tracking.
Documents cross-reference each other through depends_on links; a repair pass
keeps the link graph consistent and a snapshot cache keeps reads answering
when the primary database is down.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LORELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(taskCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Listen = addr
			}
			e, cleanup, err := buildEngine(cmd.Context(), workspace, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					APIKeys:   cfg.Auth.APIKeys,
					Logger:    e.Logger,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Listen, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Loreline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Listen, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func ingestCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest documents from a JSON file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				report, err := ingestPath(ctx, e, path)
				if err != nil {
					return err
				}
				printIngestReport(report)
				if !watch {
					return nil
				}
				return watchAndIngest(ctx, e, path)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching the path and re-ingest on change")
	return cmd
}

func repairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair dependency references across the document corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				report, err := e.RepairDependencies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("Scanned %d documents, removed %d broken references, updated %d documents\n",
					report.Scanned, report.BrokenRefsRemoved, report.DocsUpdated)
				for _, a := range report.Anomalies {
					fmt.Println("anomaly:", a)
				}
				return nil
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show storage and cache status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				out := map[string]any{
					"online": e.Store.Sup.Online(),
					"cache":  e.Store.Cache.Stats(),
				}
				if e.Store.Sup.Online() {
					counts, err := e.Store.Repo.Counts(ctx)
					if err != nil {
						return err
					}
					out["counts"] = counts
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				if e.Store.Sup.Online() {
					fmt.Println("Storage: primary (online)")
				} else {
					fmt.Println("Storage: snapshot cache (degraded)")
				}
				stats := e.Store.Cache.Stats()
				fmt.Printf("Cache: %s (%d collections, %d files, %d bytes)\n",
					stats.Dir, stats.Collections, stats.Files, stats.TotalBytes)
				if counts, ok := out["counts"].(map[string]int); ok {
					for _, k := range []string{"documents", "directives", "tasks", "states", "activity"} {
						fmt.Printf("  %s: %d\n", k, counts[k])
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Manage documents"}
	doc.AddCommand(docListCmd())
	doc.AddCommand(docShowCmd())
	return doc
}

func docListCmd() *cobra.Command {
	var f repo.DocFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				docs, cached, err := e.ListDocuments(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				if cached {
					fmt.Println("(served from snapshot cache)")
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Domain", "Status", "Deps", "Tags"})
				for _, d := range docs {
					tw.AppendRow(table.Row{
						d.DocID, d.Title, d.Domain, d.Status,
						len(d.DependsOn), strings.Join(d.Tags, ","),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Domain, "domain", "", "domain filter")
	cmd.Flags().StringVar(&f.Tag, "tag", "", "tag filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func docShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <doc-id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, cached, err := e.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				if cached {
					fmt.Println("(served from snapshot cache)")
				}
				b, _ := json.MarshalIndent(d, "", "  ")
				fmt.Println(string(b))
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks, cached, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				if cached {
					fmt.Println("(served from snapshot cache)")
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Status", "Directive", "Worker"})
				for _, t := range tasks {
					directive := ""
					if t.DirectiveID != nil {
						directive = *t.DirectiveID
					}
					worker := ""
					if t.AssignedWorker != nil {
						worker = *t.AssignedWorker
					}
					tw.AppendRow(table.Row{t.TaskID, t.Description, t.Status, directive, worker})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.DirectiveID, "directive", "", "directive filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only unassigned tasks")
	return cmd
}

// --- helpers ---

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func buildEngine(ctx context.Context, workspace string, cfg *config.Config) (*engine.Engine, func(), error) {
	conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Storage.DBPath})
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger()
	r := repo.Repo{DB: conn}
	c := cache.New(cfg.Storage.CacheDir, logger)
	sup := store.NewSupervisor(conn, logger)
	sup.ConnectAttempts = cfg.Storage.ConnectAttempts
	sup.BackoffCeiling = cfg.BackoffCeiling()
	sup.ReconnectInterval = cfg.ReconnectInterval()
	st := store.New(r, c, sup, logger)
	bus := eventbus.New(cfg.Events.Buffer, logger)
	e := engine.New(st, bus, cfg, logger)
	// The recovery hook runs on the initial connection and on every later
	// reconnect, so a primary that only becomes reachable mid-run is still
	// migrated before it serves queries. An unreachable primary is not
	// fatal: reads serve from the snapshot cache until then.
	sup.Repopulate = func(ctx context.Context) error {
		if err := migrate.Migrate(conn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		return e.RepopulateCache(ctx)
	}
	sup.Start(ctx)
	cleanup := func() {
		sup.Stop()
		conn.Close()
	}
	return e, cleanup, nil
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	// One-shot commands should not sit in the startup backoff loop.
	cfg.Storage.ConnectAttempts = 1
	e, cleanup, err := buildEngine(ctx, workspace, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, e)
}

func ingestPath(ctx context.Context, e *engine.Engine, path string) (engine.IngestReport, error) {
	docs, err := readDocuments(path)
	if err != nil {
		return engine.IngestReport{}, err
	}
	return e.Ingest(ctx, docs)
}

// readDocuments accepts a single JSON file holding a document or an array
// of documents, or a directory of such files.
func readDocuments(path string) ([]domain.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return readDocumentFile(path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		fileDocs, err := readDocumentFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

func readDocumentFile(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var docs []domain.Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return []domain.Document{doc}, nil
}

// watchAndIngest re-runs ingestion when the watched path changes. Editors
// fire bursts of events per save, so changes are debounced briefly.
func watchAndIngest(ctx context.Context, e *engine.Engine, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	fmt.Println("watching", path)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Println("watch error:", err)
		case <-fire:
			report, err := ingestPath(ctx, e, path)
			if err != nil {
				fmt.Println("ingest error:", err)
				continue
			}
			printIngestReport(report)
		}
	}
}

func printIngestReport(report engine.IngestReport) {
	if viper.GetBool("json") {
		_ = printJSON(report)
		return
	}
	fmt.Printf("Ingested %d documents (scanned %d, removed %d broken refs, updated %d)\n",
		report.Ingested, report.Repair.Scanned, report.Repair.BrokenRefsRemoved, report.Repair.DocsUpdated)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
