package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/kohaload/internal/cli"
	"github.com/studiowebux/kohaload/internal/config"
	"github.com/studiowebux/kohaload/internal/loadtest"
	"github.com/studiowebux/kohaload/internal/logging"
	"github.com/studiowebux/kohaload/internal/report"
	"github.com/studiowebux/kohaload/internal/twin"
)

var (
	version = "0.1.0"
)

// exitThresholds is the exit code of a run whose thresholds failed
const exitThresholds = 99

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrThresholdsFailed) {
			os.Exit(exitThresholds)
		}
		os.Exit(1)
	}
}

var (
	flagConfigFile string
	flagEnvFile    string

	flagConfigName string
	flagPick       bool
	flagSave       bool
	flagNoTUI      bool
	flagFormat     string
	flagFilter     string
	flagQuery      string
	flagCopy       bool
	flagLimit      int
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "kohaload",
	Short: "Koha load testing tool",
	Long: `kohaload drives a Koha instance with concurrent virtual users.

Each iteration creates a patron, a biblio and an item through the REST API,
logs into the staff interface, checks the item out and back in, searches the
OPAC and removes what it created. Checks are counted across the run and
thresholds on the pass rate decide the verdict.

Examples:
  kohaload run                                  # 5 VUs, 10 iterations
  kohaload run --vus 20 --iterations 200        # larger run
  kohaload run --staff-url http://intra --save  # save the configuration
  kohaload run --pick                           # choose a saved configuration
  kohaload twin                                 # local Koha double for dry runs
  kohaload report 3 --format json --query 'run.status'`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Koha load test scenario",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err = cli.Run(ctx, cli.RunOptions{
			Settings:   settings,
			ConfigName: flagConfigName,
			Pick:       flagPick,
			SaveConfig: flagSave,
			TUI:        !flagNoTUI && isTerminal(os.Stdout),
			Explicit:   changedKeys(cmd.Flags(), flagKeys),
			Report:     reportOptions(),
		})
		return err
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Load and print the reference data a run depends on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stderr, settings.LogLevel, settings.LogFormat)
		if err != nil {
			return err
		}

		ref, err := cli.Setup(cmd.Context(), settings, logger)
		if ref != nil {
			out, merr := yaml.Marshal(ref)
			if merr != nil {
				return merr
			}
			fmt.Print(string(out))
		}
		return err
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent load test runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(m *loadtest.Manager) error {
			runs, err := m.ListRuns(flagLimit)
			if err != nil {
				return err
			}
			fmt.Print(report.RunsTable(runs))
			return nil
		})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run with its iterations and checks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withManager(cmd, func(m *loadtest.Manager) error {
			if err := m.DeleteRun(id); err != nil {
				return err
			}
			fmt.Printf("Deleted run %d\n", id)
			return nil
		})
	},
}

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "List saved load test configurations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(m *loadtest.Manager) error {
			configs, err := m.ListConfigs()
			if err != nil {
				return err
			}
			fmt.Print(report.ConfigsTable(configs))
			return nil
		})
	},
}

var configsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved configuration (its runs are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(m *loadtest.Manager) error {
			c, err := m.GetConfigByName(args[0])
			if err != nil {
				return fmt.Errorf("configuration %q not found: %w", args[0], err)
			}
			if err := m.DeleteConfig(c.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted configuration %s\n", c.Name)
			return nil
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Show the summary of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withManager(cmd, func(m *loadtest.Manager) error {
			doc, err := report.Load(m, id)
			if err != nil {
				return err
			}
			return report.Render(os.Stdout, doc, reportOptions())
		})
	},
}

var twinCmd = &cobra.Command{
	Use:   "twin",
	Short: "Serve an in-memory Koha double for dry runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stderr, settings.LogLevel, settings.LogFormat)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(os.Stderr, "Staff and OPAC: http://%s (user %s)\n", settings.Twin.Addr, settings.Twin.User)
		return twin.New(settings.Twin, logger).Serve(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file (default ~/.kohaload/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")
	rootCmd.PersistentFlags().String("database", "", "SQLite database path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text/json)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"database":   "database",
		"log-level":  "log_level",
		"log-format": "log_format",
	})

	// Connection flags shared by run and setup
	for _, cmd := range []*cobra.Command{runCmd, setupCmd} {
		f := cmd.Flags()
		f.String("staff-url", "", "Staff interface URL (env STAFF_URL)")
		f.String("opac-url", "", "OPAC URL (env OPAC_URL)")
		f.StringP("user", "u", "", "Staff user (env STAFF_USER)")
		f.String("pass", "", "Staff password (env STAFF_PASS)")
		f.Duration("request-timeout", 0, "REST request timeout")
		f.Bool("insecure", false, "Skip TLS certificate verification")
	}

	f := runCmd.Flags()
	f.StringVarP(&flagConfigName, "load", "l", "", "Run a saved configuration by name")
	f.BoolVar(&flagPick, "pick", false, "Choose a saved configuration interactively")
	f.BoolVarP(&flagSave, "save", "s", false, "Save the configuration under --name")
	f.BoolVar(&flagNoTUI, "no-tui", false, "Log progress instead of showing the progress view")
	f.StringP("name", "n", "", "Configuration name")
	f.Int("vus", 0, "Number of virtual users")
	f.IntP("iterations", "i", 0, "Total iterations shared by all VUs")
	f.Duration("ramp-up", 0, "Spread VU starts over this duration")
	f.Duration("max-duration", 0, "Stop the run after this duration")
	f.Duration("iteration-timeout", 0, "Abort an iteration after this duration")
	f.Float64("ips", 0, "Limit iterations started per second")
	f.StringSlice("threshold", nil, "Threshold on the checks rate, e.g. rate>=0.95 (repeatable)")
	f.Duration("api-think-time", 0, "Upper bound of the random pause before API calls")
	f.Duration("ui-think-time", 0, "Upper bound of the random pause before circulation steps")
	f.String("screenshot-dir", "", "Directory for failure screenshots")
	f.String("words-file", "", "Word list used for generated titles and names")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.Bool("headful", false, "Show the browser window")
	f.String("chrome", "", "Chrome or Chromium executable")
	addReportFlags(runCmd)

	runsCmd.Flags().IntVar(&flagLimit, "limit", 20, "Number of runs to list")
	addReportFlags(reportCmd)

	tf := twinCmd.Flags()
	tf.String("addr", "", "Listen address")
	tf.Duration("latency", 0, "Delay added to every request")
	tf.Float64("fail-rate", 0, "Fraction of requests answered with 500")
	tf.Bool("restrict-patrons", false, "Create restricted patrons so checkout needs an override")
	tf.Bool("local-login", false, "Render the local login button shown with SSO")

	runsCmd.AddCommand(runsDeleteCmd)
	configsCmd.AddCommand(configsDeleteCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(twinCmd)
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagFormat, "format", "o", report.FormatText, "Output format (text/json/yaml)")
	cmd.Flags().StringVar(&flagFilter, "filter", "", "JMESPath filter applied to the report")
	cmd.Flags().StringVarP(&flagQuery, "query", "q", "", "JMESPath query or $(shell command) applied to the report")
	cmd.Flags().BoolVar(&flagCopy, "copy", false, "Copy the report to the clipboard")
}

// flagKeys maps command flags to configuration keys
var flagKeys = map[string]string{
	"staff-url":         "staff_url",
	"opac-url":          "opac_url",
	"user":              "user",
	"pass":              "pass",
	"request-timeout":   "request_timeout",
	"insecure":          "tls.insecure_skip_verify",
	"name":              "name",
	"vus":               "vus",
	"iterations":        "iterations",
	"ramp-up":           "ramp_up",
	"max-duration":      "max_duration",
	"iteration-timeout": "iteration_timeout",
	"ips":               "iterations_per_second",
	"threshold":         "thresholds",
	"api-think-time":    "api_think_time",
	"ui-think-time":     "ui_think_time",
	"screenshot-dir":    "screenshot_dir",
	"words-file":        "words_file",
	"metrics-addr":      "metrics_addr",
	"chrome":            "browser.exec_path",
	"addr":              "twin.addr",
	"latency":           "twin.latency",
	"fail-rate":         "twin.fail_rate",
	"restrict-patrons":  "twin.restrict_patrons",
	"local-login":       "twin.local_login",
}

func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			// a flag only wins once it has been set
			_ = v.BindPFlag(key, f)
		}
	}
}

// changedKeys returns the configuration keys of flags set on the command line
func changedKeys(fs *pflag.FlagSet, keys map[string]string) []string {
	var changed []string
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := keys[f.Name]; ok {
			changed = append(changed, key)
		}
	})
	return changed
}

// loadSettings binds the executing command's flags and merges every layer
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	bindFlags(cmd.Flags(), flagKeys)

	settings, err := config.Load(v, flagConfigFile, flagEnvFile)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("headful"); f != nil && f.Changed {
		settings.Browser.Headless = false
	}
	return settings, nil
}

func reportOptions() report.Options {
	return report.Options{
		Format: flagFormat,
		Filter: flagFilter,
		Query:  flagQuery,
		Copy:   flagCopy,
		Color:  isTerminal(os.Stdout),
	}
}

func withManager(cmd *cobra.Command, fn func(*loadtest.Manager) error) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	m, err := loadtest.NewManager(settings.Database)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
