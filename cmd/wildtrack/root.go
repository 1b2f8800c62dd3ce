package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wildtrack/internal/blob"
	"wildtrack/internal/config"
	"wildtrack/internal/core"
	"wildtrack/pkg/domain"
)

// cli carries flag values and the resources opened for one invocation.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath  string
	storage     string
	sqlitePath  string
	postgresDSN string
	blobDriver  string
	blobRoot    string
	verbose     bool

	cfg       *config.Config
	logger    *zap.Logger
	svc       *core.Service
	traceFile *os.File
	metrics   core.FileMetricsRecorder
}

func newRootCmd(app *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "wildtrack",
		Short: "Track habitats, animals, migrations and meals",
		Long: `wildtrack keeps one registry per entity kind (animal, habitat,
migration_path, migration, meal) and persists them to sqlite, postgres or
memory. Registry snapshots can be exported to a filesystem or S3 blob store.

Settings come from wildtrack.yaml, then WILDTRACK_* environment variables,
then flags.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", config.DefaultPath, "config file")
	flags.StringVar(&app.storage, "storage", "", "storage driver: memory, sqlite or postgres")
	flags.StringVar(&app.sqlitePath, "sqlite-path", "", "sqlite database file")
	flags.StringVar(&app.postgresDSN, "postgres-dsn", "", "postgres connection string")
	flags.StringVar(&app.blobDriver, "blob-driver", "", "snapshot blob driver: fs, s3 or memory")
	flags.StringVar(&app.blobRoot, "blob-root", "", "root directory of the fs blob driver")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newKindsCmd(app),
		newCreateCmd(app),
		newGetCmd(app),
		newListCmd(app),
		newUpdateCmd(app),
		newRemoveCmd(app),
		newMealCmd(app),
		newHabitatCmd(app),
		newMigrationCmd(app),
		newSnapshotCmd(app),
	)
	return root
}

// setup loads configuration and builds the logger. Flags win over the
// environment, which wins over the config file.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	overrides := []struct {
		flag string
		val  string
		dst  *string
	}{
		{"storage", c.storage, &cfg.Storage.Driver},
		{"sqlite-path", c.sqlitePath, &cfg.Storage.SQLitePath},
		{"postgres-dsn", c.postgresDSN, &cfg.Storage.PostgresDSN},
		{"blob-driver", c.blobDriver, &cfg.Blob.Driver},
		{"blob-root", c.blobRoot, &cfg.Blob.FSRoot},
	}
	for _, o := range overrides {
		if flags.Changed(o.flag) {
			*o.dst = o.val
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	level, _ := cfg.LogLevel()
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if c.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	c.logger, err = zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// service opens the configured backend and service on first use.
func (c *cli) service(ctx context.Context) (*core.Service, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	opts := []core.Option{core.WithLogger(core.NewZapLogger(c.logger))}
	if path := c.cfg.Logging.TracePath; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace log: %w", err)
		}
		c.traceFile = f
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	if driver := core.MetricsDriver(c.cfg.Metrics.Driver); driver != "" && driver != core.MetricsNone {
		rec, err := core.NewFileMetricsRecorder(driver)
		if err != nil {
			return nil, err
		}
		c.metrics = rec
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	svc, err := core.OpenService(ctx, c.cfg.StorageOptions(), opts...)
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

func (c *cli) exporter(ctx context.Context) (*core.SnapshotExporter, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	store, err := blob.Open(ctx, c.cfg.BlobOptions())
	if err != nil {
		return nil, err
	}
	return core.NewSnapshotExporter(svc, store, c.cfg.Blob.SnapshotPrefix), nil
}

func (c *cli) close() error {
	var errs []error
	if c.svc != nil {
		errs = append(errs, c.svc.Close())
	}
	if c.traceFile != nil {
		errs = append(errs, c.traceFile.Close())
	}
	if c.metrics != nil {
		if err := c.metrics.WriteFile(c.cfg.Metrics.Path); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return errors.Join(errs...)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// warn reports non-blocking rule violations on stderr.
func (c *cli) warn(res domain.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(c.stderr, "warning: %s: %s\n", v.Rule, v.Message)
	}
}
