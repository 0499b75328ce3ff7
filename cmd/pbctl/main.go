// main.go - Admin control tool for Pulseboard
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"pulseboard/internal"
	"pulseboard/internal/analytics"
	"pulseboard/internal/config"
	"pulseboard/internal/jobs"
	"pulseboard/internal/pkg/geoip"
	"pulseboard/internal/seeder"
	"pulseboard/internal/settings"
	"pulseboard/internal/tracking"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&ReportCommand{},
	&SnapshotCommand{},
	&PurgeCommand{},
	&ExcludeIPsCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	// Parse global flags
	flag.Parse()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Set up context with cancellation for cleanup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals in a separate goroutine
	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	if cmd.Name() == "help" {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with demo traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with demo traffic" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	hits := fs.Int("events", 10000, "number of hits to generate")
	site := fs.String("site", "", "specific site id to seed (seeds all demo sites if empty)")
	days := fs.Int("days", 30, "spread traffic over the last N days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	se := seeder.NewSeeder(app.DBManager, app.Logger, *hits)
	se.Days = *days

	if *site != "" {
		_, err := se.SeedSite(ctx, *site)
		return err
	}
	return se.Run(ctx)
}

// ReportCommand prints a site's report as JSON
type ReportCommand struct{}

func (c *ReportCommand) Name() string        { return "report" }
func (c *ReportCommand) Description() string { return "Prints a site's analytics report as JSON" }

func (c *ReportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	cfg := config.GetConfig()
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	site := fs.String("site", "", "site id (required)")
	days := fs.Int("days", cfg.DefaultReportDays, "report window in days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	store := analytics.NewGormStore(app.DBManager, app.Logger)
	aggregator := analytics.NewAggregator(store, analytics.NewSnapshotWriter(store, app.Logger), app.Logger, analytics.OptionsFromConfig(cfg))

	report, err := aggregator.Report(ctx, *site, *days)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// SnapshotCommand shows the stored daily snapshot for a site
type SnapshotCommand struct{}

func (c *SnapshotCommand) Name() string { return "snapshot" }
func (c *SnapshotCommand) Description() string {
	return "Shows a site's stored daily snapshot (defaults to today)"
}

func (c *SnapshotCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	site := fs.String("site", "", "site id (required)")
	date := fs.String("date", analytics.SnapshotDate(time.Now()), "snapshot date (YYYY-MM-DD, UTC)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *site == "" {
		return fmt.Errorf("usage: %s -site <site id> [-date YYYY-MM-DD]", c.Name())
	}
	if _, err := time.Parse(analytics.SnapshotDateLayout, *date); err != nil {
		return fmt.Errorf("invalid date %q: %w", *date, err)
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	snapshot, err := analytics.NewGormStore(app.DBManager, app.Logger).SnapshotFor(ctx, *site, *date)
	if err != nil {
		return err
	}
	if snapshot == nil {
		fmt.Printf("No snapshot for %s on %s\n", *site, *date)
		return nil
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}

// PurgeCommand deletes raw tracking rows older than the retention period
type PurgeCommand struct{}

func (c *PurgeCommand) Name() string { return "purge" }
func (c *PurgeCommand) Description() string {
	return "Deletes raw tracking rows older than -days (defaults to the configured retention)"
}

func (c *PurgeCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	cfg := config.GetConfig()
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	days := fs.Int("days", cfg.RawDataRetentionDays, "retention period in days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("retention period must be positive, got %d", *days)
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	return jobs.NewRetentionJob(app.DBManager, app.Logger, *days).Run(ctx)
}

// ExcludeIPsCommand shows or replaces the list of addresses whose traffic is dropped
type ExcludeIPsCommand struct{}

func (c *ExcludeIPsCommand) Name() string { return "exclude-ips" }
func (c *ExcludeIPsCommand) Description() string {
	return "Shows the excluded IPs, or replaces them with -set \"ip,cidr,...\" (-clear empties the list)"
}

func (c *ExcludeIPsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("exclude-ips", flag.ContinueOnError)
	set := fs.String("set", "", "comma separated addresses or CIDR ranges")
	clearAll := fs.Bool("clear", false, "remove every excluded address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	exclusions := settings.NewExclusionList(app.Logger, app.DBManager.GetConnection().WithContext(ctx), settings.DefaultCacheTTL)

	switch {
	case *clearAll:
		if err := exclusions.SetExcludedIPs(nil); err != nil {
			return err
		}
	case *set != "":
		if err := exclusions.SetExcludedIPs(settings.ParseIPList(*set)); err != nil {
			return err
		}
	}

	entries, err := exclusions.ExcludedIPs()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No excluded IPs")
		return nil
	}
	fmt.Println(strings.Join(entries, "\n"))
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection().WithContext(ctx)

	var visitors, pageViews, events, snapshots, sites int64
	counts := []struct {
		name  string
		query *gorm.DB
		dest  *int64
	}{
		{"visitors", db.Model(&tracking.Visitor{}), &visitors},
		{"page views", db.Model(&tracking.PageView{}), &pageViews},
		{"events", db.Model(&tracking.Event{}), &events},
		{"daily snapshots", db.Model(&analytics.DailySnapshot{}), &snapshots},
		{"sites", db.Model(&tracking.Visitor{}).Distinct("site_id"), &sites},
	}
	for _, q := range counts {
		if err := q.query.Count(q.dest).Error; err != nil {
			app.Logger.Error("Status count failed", slog.String("table", q.name), slog.Any("error", err))
			return fmt.Errorf("failed to count %s: %w", q.name, err)
		}
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Sites: %d", sites)
	log.Printf("- Visitors: %d", visitors)
	log.Printf("- Page views: %d", pageViews)
	log.Printf("- Events: %d", events)
	log.Printf("- Daily snapshots: %d", snapshots)
	if geoip.Available() {
		log.Println("- GeoIP: Loaded")
	} else {
		log.Println("- GeoIP: Unavailable")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: pbctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
