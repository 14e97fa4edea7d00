// Package main is the operator CLI of the assessment engine.
//
// Usage:
//
//	promote migrate
//	promote settings -tenant school-1 -file settings.json
//	promote execute  -tenant school-1 -campaign camp-1 -actor admin-1
//	promote status   -tenant school-1 (-execution exec-1 | -campaign camp-1)
//
// Every subcommand reads the same environment as the server and requires
// DATABASE_URL. Redis is used for the execution lock when reachable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/school-portal/assessment-engine/config"
	"github.com/school-portal/assessment-engine/internal/application/command"
	"github.com/school-portal/assessment-engine/internal/application/eventhandler"
	"github.com/school-portal/assessment-engine/internal/application/query"
	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/promotion"
	"github.com/school-portal/assessment-engine/internal/infrastructure/messaging"
	"github.com/school-portal/assessment-engine/internal/infrastructure/persistence/postgres"
	"github.com/school-portal/assessment-engine/internal/infrastructure/persistence/redis"
	"github.com/school-portal/assessment-engine/pkg/logger"
	"github.com/school-portal/assessment-engine/pkg/timeutil"
)

const usage = `usage: promote <command> [flags]

commands:
  migrate    apply pending database migrations
  settings   replace a tenant's assessment, grading and promotion settings
  execute    run a promotion campaign to completion
  status     show one execution or every execution of a campaign`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "promote: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	log := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: "text",
	})

	pgCfg := postgres.DefaultConfig(cfg.Database.URL)
	pgCfg.MaxConns = 4
	pgCfg.MinConns = 1
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return runMigrate(ctx, conn, out)
	case "settings":
		return runSettings(ctx, conn, rest, out)
	case "execute":
		return runExecute(ctx, cfg, conn, log, rest, out)
	case "status":
		return runStatus(ctx, conn, rest, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func runMigrate(ctx context.Context, conn *postgres.Connection, out io.Writer) error {
	migrator := postgres.NewMigrator(conn)
	applied, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "applied %d migration(s)\n", applied)
	for _, m := range status {
		state := "pending"
		if m.IsApplied {
			state = "applied " + m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "  %03d %-28s %s\n", m.Version, m.Name, state)
	}
	return nil
}

func runSettings(ctx context.Context, conn *postgres.Connection, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	file := fs.String("file", "", "settings JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *file == "" {
		return errors.New("settings: -tenant and -file are required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var s tenant.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("settings: parse %s: %w", *file, err)
	}
	s.TenantID = *tenantID

	if err := tenant.NewStoreProvider(postgres.NewRecordStore(conn), nil).Save(ctx, s); err != nil {
		return err
	}
	fmt.Fprintf(out, "settings saved for %s\n", *tenantID)
	for _, w := range s.Warnings() {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	return nil
}

func runExecute(ctx context.Context, cfg *config.Config, conn *postgres.Connection, log *logger.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	campaignID := fs.String("campaign", "", "campaign id")
	actorID := fs.String("actor", "cli", "acting user recorded on the execution")
	batchSize := fs.Int("batch-size", cfg.Engine.PromotionBatchSize, "records per progress save")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var locker command.Locker = command.NewLocalLocker()
	if !cfg.Redis.Disabled {
		rc := redis.DefaultConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		client, err := redis.NewClient(ctx, rc)
		if err != nil {
			log.Warn("Redis unavailable, lock is local to this process", logger.Err(err))
		} else {
			defer client.Close()
			locker = redis.NewLocker(client)
		}
	}

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
	defer bus.Close()
	if err := eventhandler.NewExecutionAuditHandler(log).Register(bus); err != nil {
		return err
	}

	execCfg := command.DefaultExecutePromotionConfig()
	execCfg.BatchSize = *batchSize
	execCfg.LockTTL = cfg.Engine.ExecutionLockTTL

	h := command.NewExecutePromotionHandler(postgres.NewRecordStore(conn), locker, bus, log,
		timeutil.NewCalendar(cfg.App.Location, cfg.AcademicYearStart()), execCfg)

	res, err := h.Handle(ctx, command.ExecutePromotionCommand{
		TenantID:   *tenantID,
		CampaignID: *campaignID,
		ActorID:    *actorID,
	})
	if err != nil {
		return err
	}

	res.Execution.ID = res.ExecutionID
	printExecution(out, res.Execution)
	fmt.Fprintf(out, "  duration   %s\n", res.Duration.Round(time.Millisecond))
	return nil
}

func runStatus(ctx context.Context, conn *postgres.Connection, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	executionID := fs.String("execution", "", "execution id")
	campaignID := fs.String("campaign", "", "campaign id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h := query.NewGetExecutionHandler(postgres.NewRecordStore(conn))
	if *executionID != "" {
		exec, err := h.Handle(ctx, query.GetExecutionQuery{TenantID: *tenantID, ExecutionID: *executionID})
		if err != nil {
			return err
		}
		printExecution(out, *exec)
		return nil
	}

	list, err := h.ListExecutions(ctx, query.ListExecutionsQuery{TenantID: *tenantID, CampaignID: *campaignID})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "no executions")
	}
	for _, e := range list {
		printExecution(out, e)
	}
	return nil
}

func printExecution(out io.Writer, e promotion.Execution) {
	fmt.Fprintf(out, "execution %s (%s)\n", e.ID, e.Status)
	fmt.Fprintf(out, "  campaign   %s\n", e.CampaignID)
	fmt.Fprintf(out, "  progress   %d/%d students, batch %d/%d\n",
		e.ProcessedStudents, e.TotalStudents, e.CurrentBatch, e.TotalBatches)
	fmt.Fprintf(out, "  results    promoted=%d repeated=%d graduated=%d failed=%d\n",
		e.Results.Promoted, e.Results.Repeated, e.Results.Graduated, e.Results.Failed)
	for _, f := range e.Errors {
		fmt.Fprintf(out, "  error      %s %s: %s\n", f.StudentID, f.StudentName, f.Error)
	}
}
