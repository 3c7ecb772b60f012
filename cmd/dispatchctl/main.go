// Command dispatchctl supervises a dispatchd worker and inspects its output.
//
// Subcommands:
//
//	run          start a worker, wait for its record, wind it down on Ctrl+C
//	stop         raise the stop marker for a running worker
//	tail         print the live transcript of the current call
//	records      list stored call records, newest first
//	show <id>    print one stored record in full
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telawney/dispatchd/internal/config"
	"github.com/telawney/dispatchd/internal/ipc"
	"github.com/telawney/dispatchd/internal/record"
	"github.com/telawney/dispatchd/internal/supervise"
	"github.com/telawney/dispatchd/internal/transcript"
)

func main() {
	os.Exit(run())
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dispatchctl [-config file] run|stop|tail|records|show <id>")
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	window := flag.Duration("since", 0, "restrict 'records' to the given trailing window (e.g. 24h)")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	signals, err := ipc.New(cfg.Signals.Dir, ipc.WithPollInterval(cfg.Signals.PollInterval.Std()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: open signal channel: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch flag.Arg(0) {
	case "run":
		return runWorker(ctx, cfg, signals)
	case "stop":
		if err := signals.RequestStop(); err != nil {
			fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
			return 1
		}
		fmt.Println("stop requested")
		return 0
	case "tail":
		text, err := transcript.NewFileSink(cfg.Transcript.Path).ReadAll()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dispatchctl: read transcript: %v\n", err)
			return 1
		}
		fmt.Print(text)
		return 0
	case "records":
		return listRecords(ctx, cfg, *window)
	case "show":
		if flag.NArg() < 2 {
			usage()
			return 2
		}
		return showRecord(ctx, cfg, flag.Arg(1))
	default:
		usage()
		return 2
	}
}

// runWorker launches the configured worker command, waits for either the
// call's record or an interrupt, and always winds the worker down through the
// stop → terminate → kill escalation.
func runWorker(ctx context.Context, cfg *config.Config, signals *ipc.Channel) int {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
		return 1
	}
	defer closeStore()

	var opts []supervise.Option
	if d := cfg.Supervisor.StopGrace.Std(); d > 0 {
		opts = append(opts, supervise.WithStopGrace(d))
	}
	if d := cfg.Supervisor.KillGrace.Std(); d > 0 {
		opts = append(opts, supervise.WithKillGrace(d))
	}
	sup, err := supervise.New(cfg.Supervisor.Command, signals, store, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
		return 1
	}

	if err := sup.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
		return 1
	}

	recCh := make(chan *record.Record, 1)
	go func() {
		rec, err := sup.AwaitRecord(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("await record failed", "err", err)
			}
			return
		}
		recCh <- rec
	}()
	exitCh := make(chan error, 1)
	go func() { exitCh <- sup.Wait(ctx) }()

	select {
	case rec := <-recCh:
		printRecord(rec)
	case err := <-exitCh:
		if err != nil {
			slog.Warn("worker exited with error", "err", err)
		}
		// The done marker may land just before exit; give the watcher a
		// moment before concluding the call produced nothing.
		select {
		case rec := <-recCh:
			printRecord(rec)
		case <-time.After(time.Second):
			slog.Info("worker exited without a record")
		}
	case <-ctx.Done():
		slog.Info("interrupt received, stopping worker")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, supervise.ErrNotRunning) {
		slog.Error("stop worker failed", "err", err)
		return 1
	}
	return 0
}

func listRecords(ctx context.Context, cfg *config.Config, window time.Duration) int {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
		return 1
	}
	defer closeStore()

	var records []record.Record
	if window > 0 {
		end := time.Now().UTC()
		records, err = store.QueryByWindow(ctx, end.Add(-window), end)
	} else {
		records, err = store.QueryAll(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: query records: %v\n", err)
		return 1
	}

	for _, rec := range records {
		spam := " "
		if rec.IsSpam {
			spam = "S"
		}
		fmt.Printf("%s  %-6s %s %-20s %s\n",
			rec.Timestamp.Format(time.RFC3339), rec.Criticality, spam, rec.Location, rec.Summary)
	}
	fmt.Printf("%d record(s)\n", len(records))
	return 0
}

func showRecord(ctx context.Context, cfg *config.Config, id string) int {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: %v\n", err)
		return 1
	}
	defer closeStore()

	rec, err := store.QueryByID(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: query record: %v\n", err)
		return 1
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: no record with id %s\n", id)
		return 1
	}
	printRecord(rec)
	fmt.Println("--- transcript ---")
	fmt.Println(rec.Transcript)
	return 0
}

func printRecord(rec *record.Record) {
	fmt.Printf("id:          %s\n", rec.ID)
	fmt.Printf("timestamp:   %s\n", rec.Timestamp.Format(time.RFC3339))
	fmt.Printf("criticality: %s\n", rec.Criticality)
	fmt.Printf("is_spam:     %t\n", rec.IsSpam)
	fmt.Printf("caller:      %s\n", rec.Caller)
	fmt.Printf("location:    %s\n", rec.Location)
	fmt.Printf("summary:     %s\n", rec.Summary)
}

// openStore connects to the configured Postgres store. The supervisor needs a
// durable store to resolve records published by a separate process, so unlike
// the worker there is no in-memory fallback.
func openStore(ctx context.Context, cfg *config.Config) (record.Store, func(), error) {
	if cfg.Store.PostgresDSN == "" {
		return nil, nil, errors.New("store.postgres_dsn must be configured")
	}
	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := record.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate schema: %w", err)
	}
	return store, pool.Close, nil
}
