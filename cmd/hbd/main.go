// Command hbd is HostBridge's daemon: a loopback control-plane server
// mediating between an AI job producer and a live host process, plus the
// filesystem bridge to an external code-generation worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostbridge/hostbridge/internal/actionvalidate"
	"github.com/hostbridge/hostbridge/internal/audit"
	"github.com/hostbridge/hostbridge/internal/codexbridge"
	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/contextstore"
	"github.com/hostbridge/hostbridge/internal/httpapi"
	"github.com/hostbridge/hostbridge/internal/leasemgr"
	"github.com/hostbridge/hostbridge/internal/lockfile"
	"github.com/hostbridge/hostbridge/internal/logging"
	"github.com/hostbridge/hostbridge/internal/semantic"
	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/store/sqlite"
	"github.com/hostbridge/hostbridge/internal/txqueue"
	"github.com/hostbridge/hostbridge/internal/types"
)

var (
	cfgFile    string
	addr       string
	queueDir   string
	sqliteOn   bool
	sqlitePath string
	debugFlag  bool

	cfg *config.Config

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// auditLogPath and stateDir/eventsLogPath are the fixed on-disk locations
// the daemon's two append-only JSONL logs live at, relative to the
// working directory the daemon is launched from.
const (
	auditLogPath  = "audit.log"
	stateDir      = "state"
	eventsLogFile = "context_events.log"
)

func eventsLogPath() string {
	return filepath.Join(stateDir, eventsLogFile)
}

var rootCmd = &cobra.Command{
	Use:   "hbd",
	Short: "hbd - HostBridge control-plane daemon",
	Long:  "hbd mediates between an AI code-editing job producer and a live host process: lease admission, a transaction queue, a context store, and the Codex job bridge.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		logging.SetDebug(debugFlag || logging.Enabled())

		cfg = config.New(cfgFile)
		v := cfg.Raw()
		_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
		_ = v.BindPFlag("queue_dir", cmd.Flags().Lookup("queue-dir"))
		_ = v.BindPFlag("sqlite_enabled", cmd.Flags().Lookup("sqlite"))
		_ = v.BindPFlag("sqlite_path", cmd.Flags().Lookup("sqlite-path"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/JSON/TOML); defaults merge when absent")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", ":3030", "HTTP listen address")
	rootCmd.PersistentFlags().StringVar(&queueDir, "queue-dir", "codex_queue", "codex job bridge queue root")
	rootCmd.PersistentFlags().BoolVar(&sqliteOn, "sqlite", true, "mirror persistence to an embedded SQLite database")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "hostbridge.db", "SQLite database path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug-level logging")

	rootCmd.AddCommand(serveCmd, statusCmd, queueCmd, codexCmd)
	queueCmd.AddCommand(queueLsCmd)
	codexCmd.AddCommand(codexWatchCmd)
}

// components bundles everything serve and codex watch construct from
// config, so the two long-running subcommands share one wiring path.
type components struct {
	cfg     *config.Config
	lease   *leasemgr.Manager
	queue   *txqueue.Queue
	ctx     *contextstore.Store
	bridge  *codexbridge.Bridge
	audit   *audit.Log
	db      *sqlite.DB
	dirs    codexbridge.Dirs
	recon   *contextstore.Reconciler
}

func build(cfg *config.Config) (*components, error) {
	lease := leasemgr.New(cfg.HeartbeatTTL())
	queue := txqueue.New(cfg.MaxQueue(), cfg.ClaimTTL())

	var db *sqlite.DB
	if cfg.SQLiteEnabled() {
		var err error
		db, err = sqlite.Open(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		if items, err := db.LoadQueueItems(); err == nil && len(items) > 0 {
			highWater := int64(0)
			for _, item := range items {
				if item.Seq > highWater {
					highWater = item.Seq
				}
			}
			queue.Restore(items, highWater)
		}
	}

	auditLog, err := audit.New(auditLogPath, auditSink(db))
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	persist, err := store.NewContextPersister(stateDir, sqlMirror(db))
	if err != nil {
		return nil, fmt.Errorf("opening context persister: %w", err)
	}
	ctxStore := contextstore.New(persist, contextstore.Options{
		DeltaMaxItems: cfg.DeltaMaxItems(),
		SemanticOpts:  semanticOptions(cfg),
		MinExportInterval: cfg.ContextMinInterval(),
	})

	var recon *contextstore.Reconciler
	if db != nil {
		recon = contextstore.NewReconciler(ctxStore, db, cfg.ReconcileInterval())
	}

	dirs := codexbridge.NewDirs(cfg.QueueDir())
	protectedRoots := cfg.ProtectedRoots()
	allowedRoots := cfg.AllowedRoots()
	bridge := codexbridge.New(dirs, codexbridge.Options{
		JobTTL:            cfg.JobTTL(),
		MaxRisk:           cfg.MaxRisk(),
		FocusMaxScripts:   cfg.FocusMaxScripts(),
		FocusMaxBytes:     cfg.FocusMaxBytes(),
		AutoRepair:        cfg.AutoRepair(),
		RepairMaxAttempts: cfg.RepairMaxAttempts(),
		RepairCooldown:    cfg.RepairCooldown(),
		Validate: actionvalidate.Options{
			MaxActions:     cfg.MaxActions(),
			MaxSourceBytes: cfg.MaxSourceBytes(),
			SafeEditBytes:  cfg.SafeEditBytes(),
			Policy:         types.PolicyProfile(cfg.PolicyProfile()),
			ProtectedRoots: protectedRoots,
			AllowedRoots:   allowedRoots,
			HostRootPrefix: "game/",
		},
	}, queue, lease, ctxStore)

	bridge.OnJobError = func(job *types.CodexJob, detail string) {
		scope := types.Scope{}
		if job != nil {
			scope = job.Scope
		}
		auditLog.Record(scope, "codex_job_error", detail)
	}

	queue.OnEnqueue = func(item types.QueueItem) {
		auditLog.OnEnqueue(item)
		if db != nil {
			_ = db.SaveQueueItem(item)
		}
	}
	queue.OnReceipt = func(item types.QueueItem, receipt types.Receipt) {
		auditLog.OnReceipt(item, receipt)
		if db != nil {
			_ = db.DeleteQueueItem(item.Scope, item.Seq)
		}
		bridge.HandleReceipt(item, receipt)
	}
	lease.OnDrop = func(scope types.Scope) {
		auditLog.OnLeaseDrop(scope)
		queue.ResetScope(scope)
	}

	return &components{
		cfg: cfg, lease: lease, queue: queue, ctx: ctxStore, bridge: bridge,
		audit: auditLog, db: db, dirs: dirs, recon: recon,
	}, nil
}

func semanticOptions(cfg *config.Config) semantic.Options {
	opts := semantic.DefaultOptions()
	opts.MaxSourceBytes = cfg.SemanticMaxSourceBytes()
	opts.KeywordCap = cfg.SemanticKeywordCap()
	opts.SymbolCap = cfg.SemanticSymbolCap()
	return opts
}

// auditSink narrows db to audit.SQLSink, preserving a nil interface value
// (not a non-nil interface wrapping a nil pointer) when SQLite is off.
func auditSink(db *sqlite.DB) audit.SQLSink {
	if db == nil {
		return nil
	}
	return db
}

// sqlMirror narrows db to store.SQLMirror with the same nil-interface care.
func sqlMirror(db *sqlite.DB) store.SQLMirror {
	if db == nil {
		return nil
	}
	return db
}

func (c *components) close() {
	if c.db != nil {
		_ = c.db.Close()
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HostBridge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := lockfile.AcquireWorkerLock(cfg.QueueDir())
		if err != nil {
			return fmt.Errorf("acquiring worker lock: %w", err)
		}
		defer lock.Release()

		c, err := build(cfg)
		if err != nil {
			return err
		}
		defer c.close()

		go c.bridge.Watch(rootCtx)
		if c.recon != nil {
			go c.recon.Run(rootCtx)
		}

		srv := httpapi.New(c.lease, c.queue, c.ctx, c.bridge, cfg.DefaultWaitTimeout(), cfg.MaxWaitTimeout())
		srv.Audit = c.audit
		srv.AuditLogPath = auditLogPath
		srv.ContextEventsLogPath = eventsLogPath()
		httpServer := &http.Server{Addr: cfg.Addr(), Handler: srv.Handler()}

		go func() {
			<-rootCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()

		logging.Logger().Info("hbd listening", "addr", cfg.Addr(), "queueDir", cfg.QueueDir())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the running daemon's /status and /codex/status",
	RunE: func(cmd *cobra.Command, args []string) error {
		base := "http://127.0.0.1" + cfg.Addr()
		for _, path := range []string{"/status", "/codex/status"} {
			body, err := fetchJSON(base + path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				continue
			}
			fmt.Printf("%s: %s\n", path, body)
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect persisted queue state",
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List queue items persisted in the SQLite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.SQLiteEnabled() {
			return fmt.Errorf("sqlite is disabled (--sqlite=false); queue ls has nothing to read")
		}
		db, err := sqlite.Open(cfg.SQLitePath())
		if err != nil {
			return fmt.Errorf("opening sqlite database: %w", err)
		}
		defer db.Close()

		items, err := db.LoadQueueItems()
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Printf("seq=%d scope=%s jobId=%s txId=%s actions=%d\n",
				item.Seq, item.Scope.Key(), item.JobID, item.Tx.TransactionID, len(item.Tx.Actions))
		}
		if len(items) == 0 {
			fmt.Println("(queue is empty)")
		}
		return nil
	},
}

var codexCmd = &cobra.Command{
	Use:   "codex",
	Short: "Codex job bridge utilities",
}

var codexWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the codex bridge watcher loop standalone, without the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := lockfile.AcquireWorkerLock(cfg.QueueDir())
		if err != nil {
			return fmt.Errorf("acquiring worker lock: %w", err)
		}
		defer lock.Release()

		c, err := build(cfg)
		if err != nil {
			return err
		}
		defer c.close()

		logging.Logger().Info("codex bridge watcher running standalone", "queueDir", cfg.QueueDir())
		c.bridge.Watch(rootCtx)
		return nil
	},
}

func fetchJSON(url string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	return string(buf[:n]), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if rootCancel != nil {
		rootCancel()
	}
}
