package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/observer"
	"github.com/dcshock/hookpipe/tracing"
)

var version = "dev"

// errStepsFailed is returned when a run completed with step errors. The
// report has already been printed, so main only sets the exit code.
var errStepsFailed = errors.New("steps failed")

type logSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type dbSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// settings is the merged view of flags, HOOKPIPE_* env vars and the config
// file.
type settings struct {
	Log       logSettings    `mapstructure:"log"`
	DB        dbSettings     `mapstructure:"db"`
	Tracing   tracing.Config `mapstructure:"tracing"`
	Pipelines string         `mapstructure:"pipelines"`
}

type cli struct {
	v        *viper.Viper
	cfgFile  string
	settings settings
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *cli) {
	c := &cli{v: viper.New()}
	root := &cobra.Command{
		Use:   "hookpipe",
		Short: "Run hook-driven pipelines",
		Long: `hookpipe runs ordered pipelines whose steps are wrapped by before,
on and after hook chains. Pipelines are defined in YAML or HCL files and
runs can be recorded in a SQLite or Postgres run store.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "config file (default ./hookpipe.yaml)")
	flags.StringP("file", "f", "", "pipeline definitions file (.yaml or .hcl)")
	flags.String("db", "", "run store DSN; enables run recording")
	flags.String("db-driver", "", "run store driver (sqlite3 or pgx)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text or json)")
	_ = c.v.BindPFlag("pipelines", flags.Lookup("file"))
	_ = c.v.BindPFlag("db.dsn", flags.Lookup("db"))
	_ = c.v.BindPFlag("db.driver", flags.Lookup("db-driver"))
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(newRunCmd(c), newStepsCmd(c), newRunsCmd(c), newResumeCmd(c))
	return root, c
}

// load merges defaults, the config file, env and flags into c.settings and
// builds the logger.
func (c *cli) load(cmd *cobra.Command) error {
	v := c.v
	tc := tracing.DefaultConfig()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("db.driver", observer.DriverSQLite)
	v.SetDefault("db.dsn", "")
	v.SetDefault("pipelines", "pipelines.yaml")
	v.SetDefault("tracing.enabled", tc.Enabled)
	v.SetDefault("tracing.exporter", tc.Exporter)
	v.SetDefault("tracing.file_path", tc.FilePath)
	v.SetDefault("tracing.otlp_endpoint", tc.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", tc.SampleRate)
	v.SetDefault("tracing.service_name", tc.ServiceName)

	v.SetEnvPrefix("HOOKPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if c.cfgFile != "" {
		v.SetConfigFile(c.cfgFile)
	} else {
		v.SetConfigName("hookpipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := v.Unmarshal(&c.settings); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	c.logger = ctxlog.New(c.settings.Log.Level, c.settings.Log.Format, cmd.ErrOrStderr())
	return nil
}
