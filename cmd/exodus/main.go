package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"exodus/internal/config"
	"exodus/internal/db"
	httpserver "exodus/internal/http"
	"exodus/internal/logging"
	"exodus/internal/migrate"
	"exodus/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	switch cmd {
	case "init-config":
		return initConfigCmd(args)
	case "make-migration":
		return makeMigrationCmd(args)
	case "migrate":
		return migrateCmd(args)
	case "rollback":
		return rollbackCmd(args)
	case "status":
		return statusCmd(args)
	case "serve":
		return serveCmd(args)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %s", cmd)
	}
}

func usage() {
	fmt.Println(`exodus commands:
  init-config     - create a starter exodus.yml
  make-migration  - create a new migration file from the dialect template
  migrate         - run all pending migrations as one batch
  rollback        - reverse the latest batch (or its last N files with --last)
  status          - show applied and pending migrations
  serve           - launch the read-only JSON status API

Flags are command specific; run "<cmd> -h" for details.`)
}

func initConfigCmd(args []string) error {
	fs := flagSet("init-config")
	path := fs.String("path", config.DefaultFile, "where to write the sample config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.WriteSample(*path); err != nil {
		return err
	}
	fmt.Println("sample config written to", *path)
	return nil
}

func makeMigrationCmd(args []string) error {
	fs := flagSet("make-migration")
	configPath := fs.String("config", config.DefaultFile, "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: exodus make-migration [-config path] <name>")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	dir, err := cfg.MigrationDirectory()
	if err != nil {
		return err
	}
	provider, err := db.ParseProvider(cfg.DB.Adapter)
	if err != nil {
		return err
	}
	path, err := storage.CreateMigration(dir, fs.Arg(0), time.Now(), storage.Template(provider))
	if err != nil {
		return err
	}
	fmt.Println("Created migration:", path)
	return nil
}

func migrateCmd(args []string) error {
	fs := flagSet("migrate")
	configPath := fs.String("config", config.DefaultFile, "path to config file")
	timeout := fs.Duration("timeout", 0, "abort the run after this long (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withEngine(*configPath, *timeout, func(ctx context.Context, app *app) error {
		files, err := app.engine.Migrate(ctx)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("Nothing to migrate.")
			return nil
		}
		for _, f := range files {
			fmt.Println("Migrated:", f)
		}
		return nil
	})
}

func rollbackCmd(args []string) error {
	fs := flagSet("rollback")
	configPath := fs.String("config", config.DefaultFile, "path to config file")
	var last int
	fs.IntVar(&last, "last", 0, "roll back only the last n migrations of the latest batch")
	fs.IntVar(&last, "l", 0, "shorthand for -last")
	approve := fs.Bool("approve", false, "skip approval prompt")
	timeout := fs.Duration("timeout", 0, "abort the run after this long (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withEngine(*configPath, *timeout, func(ctx context.Context, app *app) error {
		files, err := app.engine.MigrationsToRollback(ctx, last)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No migrations to rollback.")
			return nil
		}
		fmt.Printf("About to roll back %d migration(s): %s\n", len(files), strings.Join(files, ", "))
		if !*approve {
			if ok, err := promptYes(os.Stdin, "Type YES to proceed: "); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("aborted by user")
			}
		}
		if err := app.engine.RollbackMigrations(ctx, files); err != nil {
			return err
		}
		for i := len(files) - 1; i >= 0; i-- {
			fmt.Println("Rolled back:", files[i])
		}
		return nil
	})
}

func statusCmd(args []string) error {
	fs := flagSet("status")
	configPath := fs.String("config", config.DefaultFile, "path to config file")
	timeout := fs.Duration("timeout", 30*time.Second, "abort after this long (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withEngine(*configPath, *timeout, func(ctx context.Context, app *app) error {
		st, err := app.engine.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(os.Stdout, st)
		return nil
	})
}

func serveCmd(args []string) error {
	fs := flagSet("serve")
	configPath := fs.String("config", config.DefaultFile, "path to config file")
	addr := fs.String("addr", ":8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withEngine(*configPath, 0, func(ctx context.Context, app *app) error {
		srv := httpserver.New(*addr, app.logger, app.adapter, app.engine)
		return srv.Start(ctx)
	})
}

type app struct {
	logger  *slog.Logger
	adapter db.Adapter
	engine  *migrate.Engine
}

// withEngine loads configuration, connects and hands fn an engine. The
// context is cancelled on SIGINT/SIGTERM, which aborts an open transaction.
func withEngine(configPath string, timeout time.Duration, fn func(ctx context.Context, app *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	dir, _ := cfg.MigrationDirectory()
	table, _ := cfg.MigrationTableName()

	logger := logging.NewLogger(cfg.LogLevel)

	adapter, err := db.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer adapter.Close()

	backend, err := migrate.NewBackend(adapter, table)
	if err != nil {
		return err
	}
	engine := migrate.NewEngine(adapter, backend, storage.Dir{}, dir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, &app{logger: logger, adapter: adapter, engine: engine})
}

func printStatus(w io.Writer, st migrate.Status) {
	fmt.Fprintln(w, "Applied:")
	if len(st.Applied) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, r := range st.Applied {
		fmt.Fprintf(w, "  [batch %d] %s ran_at=%s\n", r.Batch, r.File, r.RanAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w, "Pending:")
	if len(st.Pending) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, f := range st.Pending {
		fmt.Fprintln(w, "  "+f)
	}
}

func promptYes(in io.Reader, prompt string) (bool, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	return strings.TrimSpace(line) == "YES", nil
}

func flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
