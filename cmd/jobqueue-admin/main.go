// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rivergate/jobqueue/internal/admin"
	"github.com/rivergate/jobqueue/internal/config"
	"github.com/rivergate/jobqueue/internal/jobqueue"
	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/queue"
)

var version = "dev"

func main() {
	var configPath string
	var adminCmd string
	var adminQueue string
	var adminName string
	var adminN int
	var adminYes bool
	var ageMinutes int
	var ageDays int
	var statusFilter string
	var nameGlob string
	var dumpPath string
	var trackCancelled bool
	var gzipFile bool
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&adminCmd, "admin-cmd", "", "Admin command: stats|peek|purge-all|cancel|requeue|clear-by-status|clear-older-than|dump|import")
	fs.StringVar(&adminQueue, "queue", "default", "Queue name for peek")
	fs.StringVar(&adminName, "name", "", "Job class name for cancel")
	fs.IntVar(&adminN, "n", 10, "Number of items for peek")
	fs.BoolVar(&adminYes, "yes", false, "Automatic yes to prompts (dangerous operations)")
	fs.IntVar(&ageMinutes, "age-minutes", 5, "Stalled-job age threshold for requeue")
	fs.IntVar(&ageDays, "age-days", 30, "Age threshold in days for clear-older-than")
	fs.StringVar(&statusFilter, "status", "", "Comma-separated status filter (queued,processing,completed,failed,cancelled)")
	fs.StringVar(&nameGlob, "name-glob", "", "Doublestar glob to filter peek output by job class name")
	fs.StringVar(&dumpPath, "file", "", "NDJSON file path for dump/import")
	fs.BoolVar(&trackCancelled, "track-cancelled", false, "Record cancelled job ids in a queryable side set")
	fs.BoolVar(&gzipFile, "gzip", false, "Compress/decompress the dump/import file with gzip")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	q, err := jobqueue.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("build backend failed", obs.Err(err))
	}
	defer q.Close()

	backend := q.Backend()

	switch adminCmd {
	case "stats":
		res, err := admin.Stats(ctx, backend)
		if err != nil {
			log.Fatal("admin stats error", obs.Err(err))
		}
		printJSON(res)

	case "peek":
		jobs, err := admin.Peek(ctx, backend, adminQueue, adminN)
		if err != nil {
			log.Fatal("admin peek error", obs.Err(err))
		}
		jobs, err = admin.FilterByNameGlob(jobs, nameGlob)
		if err != nil {
			log.Fatal("admin peek glob error", obs.Err(err))
		}
		printJSON(jobs)

	case "purge-all":
		if !adminYes {
			log.Fatal("refusing to purge without --yes")
		}
		if err := admin.PurgeAll(ctx, backend); err != nil {
			log.Fatal("admin purge-all error", obs.Err(err))
		}
		fmt.Println("all backend state purged")

	case "cancel":
		if adminName == "" {
			log.Fatal("admin cancel requires --name")
		}
		if err := admin.CancelJobsByName(ctx, backend, adminName, queue.CancelOptions{TrackCancelled: trackCancelled}); err != nil {
			log.Fatal("admin cancel error", obs.Err(err))
		}
		fmt.Printf("cancelled queued jobs named %q\n", adminName)

	case "requeue":
		if err := admin.Requeue(ctx, backend, ageMinutes); err != nil {
			log.Fatal("admin requeue error", obs.Err(err))
		}
		fmt.Println("stalled and failed jobs requeued")

	case "clear-by-status":
		statuses := parseStatuses(statusFilter)
		if len(statuses) == 0 {
			log.Fatal("admin clear-by-status requires --status")
		}
		if err := admin.ClearByStatus(ctx, backend, statuses); err != nil {
			log.Fatal("admin clear-by-status error", obs.Err(err))
		}
		fmt.Println("matching jobs cleared")

	case "clear-older-than":
		if !adminYes {
			log.Fatal("refusing to clear without --yes")
		}
		if err := admin.ClearJobsOlderThan(ctx, backend, ageDays, parseStatuses(statusFilter)); err != nil {
			log.Fatal("admin clear-older-than error", obs.Err(err))
		}
		fmt.Println("old jobs cleared")

	case "dump":
		if dumpPath == "" {
			log.Fatal("admin dump requires --file")
		}
		f, err := os.Create(dumpPath)
		if err != nil {
			log.Fatal("open dump file failed", obs.Err(err))
		}
		defer f.Close()
		filter := queue.JobFilter{Statuses: parseStatuses(statusFilter)}
		var n int
		if gzipFile {
			n, err = q.DumpGzip(ctx, f, filter)
		} else {
			n, err = q.Dump(ctx, f, filter)
		}
		if err != nil {
			log.Fatal("admin dump error", obs.Err(err))
		}
		fmt.Printf("dumped %d jobs to %s\n", n, dumpPath)

	case "import":
		if dumpPath == "" {
			log.Fatal("admin import requires --file")
		}
		f, err := os.Open(dumpPath)
		if err != nil {
			log.Fatal("open import file failed", obs.Err(err))
		}
		defer f.Close()
		var imported, skipped int
		if gzipFile {
			imported, skipped, err = q.ImportGzip(ctx, f)
		} else {
			imported, skipped, err = q.Import(ctx, f)
		}
		if err != nil {
			log.Fatal("admin import error", obs.Err(err))
		}
		fmt.Printf("imported %d jobs, skipped %d\n", imported, skipped)

	default:
		log.Fatal("unknown admin command", obs.String("cmd", adminCmd))
	}
}

func parseStatuses(csv string) []queue.Status {
	if csv == "" {
		return nil
	}
	var out []queue.Status
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, queue.Status(csv[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
