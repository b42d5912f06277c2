// Command loggersync reads records from meteorological data loggers
// and uploads whatever the Enhydris server does not already have.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openhydro/loggersync/internal/config"
	"github.com/openhydro/loggersync/internal/enhydris"
	"github.com/openhydro/loggersync/internal/export"
	"github.com/openhydro/loggersync/internal/logging"
	"github.com/openhydro/loggersync/internal/loggerstorage"
	"github.com/openhydro/loggersync/internal/report"

	// The sql storage format defaults to the duckdb driver.
	_ "github.com/marcboeker/go-duckdb"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "loggersync CONFIGFILE",
		Short: "Upload data-logger records to an Enhydris server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			every, _ := cmd.Flags().GetDuration("every")
			parallel, _ := cmd.Flags().GetInt("parallel")

			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, logger, err := setup(cmd, args[0])
			if err != nil {
				return err
			}
			if every > 0 {
				return runForever(ctx, cfg, logger, every, parallel)
			}
			return runOnce(ctx, cfg, logger, nil, parallel)
		},
	}
	rootCmd.SilenceUsage = true
	rootCmd.Version = Version

	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (error, warning, info, debug)")
	rootCmd.PersistentFlags().Bool("json", false, "emit log entries as JSON")
	rootCmd.Flags().Duration("every", 0, "keep running, uploading at this interval (e.g. 10m)")
	rootCmd.Flags().Int("parallel", 1, "number of station sections processed concurrently")

	upgradeCmd := &cobra.Command{
		Use:   "upgrade CONFIGFILE",
		Short: "Convert a legacy INI configuration file to YAML in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := initLogging(cmd, "warning", "")
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return config.UpgradeINI(ctx, args[0], func(baseURL string) config.TokenExchanger {
				return enhydris.New(baseURL, "", logger)
			})
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect CONFIGFILE SECTION OUTFILE",
		Short: "Read everything a storage holds and write it to a Parquet file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, _ := cmd.Flags().GetInt("group")

			cfg, logger, err := setup(cmd, args[0])
			if err != nil {
				return err
			}
			return inspect(cfg, logger, args[1], args[2], groupID)
		},
	}
	inspectCmd.Flags().Int("group", 0, "series group id to export (default: all groups)")

	rootCmd.AddCommand(upgradeCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and initializes logging from it,
// honoring the --log-level and --json overrides.
func setup(cmd *cobra.Command, configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := initLogging(cmd, cfg.General.LogLevel, cfg.General.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func initLogging(cmd *cobra.Command, levelName, logFile string) (*slog.Logger, error) {
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		levelName = override
	}
	jsonFormat, _ := cmd.Flags().GetBool("json")

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(level, logFile, jsonFormat); err != nil {
		return nil, err
	}
	return logging.Logger, nil
}

// runForever uploads at a fixed interval until interrupted. Storages
// are built once and reused across runs so their read-ahead caches
// survive between intervals.
func runForever(ctx context.Context, cfg *config.Config, logger *slog.Logger, every time.Duration, parallel int) error {
	storages, err := buildStorages(cfg, logger)
	if err != nil {
		return err
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			if err := runOnce(ctx, cfg, logger, storages, parallel); err != nil {
				logger.Error("upload run failed", "error", err)
			}
		}),
		gocron.WithName("upload"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule upload job: %w", err)
	}

	sched.Start()
	logger.Info("scheduler started", "interval", every)
	<-ctx.Done()
	return sched.Shutdown()
}

// runOnce processes every station section. A failing section is logged
// and does not stop the others; the run as a whole fails if any
// section failed. When storages is nil, fresh ones are built.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, storages map[string]loggerstorage.Storage, parallel int) error {
	if storages == nil {
		var err error
		storages, err = buildStorages(cfg, logger)
		if err != nil {
			return err
		}
	}

	client := enhydris.New(cfg.General.BaseURL, cfg.General.AuthToken, logger)
	names := cfg.StationNames()

	if parallel < 1 {
		parallel = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	var failed atomic.Int64
	for _, name := range names {
		g.Go(func() error {
			if err := processSection(ctx, client, storages[name], logger); err != nil {
				logger.Error("section failed", "section", name, "error", err)
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d sections failed", n, len(names))
	}
	return nil
}

func buildStorages(cfg *config.Config, logger *slog.Logger) (map[string]loggerstorage.Storage, error) {
	storages := make(map[string]loggerstorage.Storage, len(cfg.Stations))
	for name, params := range cfg.Stations {
		st, err := loggerstorage.New(name, params, logger)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
		storages[name] = st
	}
	return storages, nil
}

func processSection(ctx context.Context, client *enhydris.Client, st loggerstorage.Storage, logger *slog.Logger) error {
	rep := report.New(st.Section(), logger)
	if err := client.Upload(ctx, st, rep); err != nil {
		return err
	}
	rep.Log()
	return nil
}

// inspect reads everything the named storage holds and writes it to a
// Parquet file, without talking to the server.
func inspect(cfg *config.Config, logger *slog.Logger, section, outPath string, groupID int) error {
	params, ok := cfg.Stations[section]
	if !ok {
		return fmt.Errorf("no station section named %q in the config file", section)
	}
	st, err := loggerstorage.New(section, inspectParams(params), logger)
	if err != nil {
		return err
	}

	groups := st.TimeseriesGroupIDs()
	if groupID != 0 {
		groups = []int{groupID}
	}

	batches := make(map[int][]loggerstorage.Record, len(groups))
	total := 0
	for _, gid := range groups {
		records, err := st.GetRecentData(gid, enhydris.StartOfTime)
		if err != nil {
			return err
		}
		batches[gid] = records
		total += len(records)
	}

	if err := export.WriteParquetGroups(outPath, batches); err != nil {
		return err
	}
	logger.Info("wrote records", "section", section, "path", outPath, "records", total)
	return nil
}

// inspectParams lifts the default record cap for dumps. The cap exists
// to bound upload batches; a dump wants the complete storage unless the
// section sets max_records itself.
func inspectParams(params loggerstorage.Parameters) loggerstorage.Parameters {
	if _, ok := params["max_records"]; ok {
		return params
	}
	out := make(loggerstorage.Parameters, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["max_records"] = strconv.Itoa(math.MaxInt32)
	return out
}
