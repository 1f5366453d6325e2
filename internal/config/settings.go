package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/studiowebux/kohaload/internal/browser"
	"github.com/studiowebux/kohaload/internal/koha"
	"github.com/studiowebux/kohaload/internal/loadtest"
	"github.com/studiowebux/kohaload/internal/scenario"
	"github.com/studiowebux/kohaload/internal/twin"
)

// EnvPrefix namespaces environment overrides, e.g. KOHALOAD_VUS
const EnvPrefix = "KOHALOAD"

const (
	DefaultStaffURL = "http://kohadev-intra.localhost"
	DefaultOPACURL  = "http://kohadev.localhost"
	DefaultUser     = "koha"
	DefaultPass     = "koha"
	DefaultRunName  = "default"
	DefaultVUs      = 5
	DefaultIters    = 10
)

// DefaultThresholds fails a run on any failed check
var DefaultThresholds = []string{"rate==1.0"}

// Settings is the merged configuration of a kohaload invocation
type Settings struct {
	Scenario scenario.Config `mapstructure:",squash"`

	Name                string        `mapstructure:"name"`
	VUs                 int           `mapstructure:"vus"`
	Iterations          int           `mapstructure:"iterations"`
	RampUp              time.Duration `mapstructure:"ramp_up"`
	MaxDuration         time.Duration `mapstructure:"max_duration"`
	IterationTimeout    time.Duration `mapstructure:"iteration_timeout"`
	IterationsPerSecond float64       `mapstructure:"iterations_per_second"`
	Thresholds          []string      `mapstructure:"thresholds"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WordsFile      string        `mapstructure:"words_file"`
	Database       string        `mapstructure:"database"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`

	Browser browser.Options `mapstructure:"browser"`
	TLS     koha.TLSConfig  `mapstructure:"tls"`
	Twin    twin.Config     `mapstructure:"twin"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal
func SetDefaults(v *viper.Viper) {
	screenshots := ScreenshotsDir
	if screenshots == "" {
		screenshots = "screenshots"
	}
	database := DatabasePath
	if database == "" {
		database = "kohaload.db"
	}

	v.SetDefault("staff_url", DefaultStaffURL)
	v.SetDefault("opac_url", DefaultOPACURL)
	v.SetDefault("user", DefaultUser)
	v.SetDefault("pass", DefaultPass)
	v.SetDefault("api_think_time", scenario.DefaultAPIThinkTime)
	v.SetDefault("ui_think_time", scenario.DefaultUIThinkTime)
	v.SetDefault("screenshot_dir", screenshots)
	v.SetDefault("cleanup_timeout", scenario.DefaultCleanupTimeout)
	v.SetDefault("label_timeout", 10*time.Second)

	v.SetDefault("name", DefaultRunName)
	v.SetDefault("vus", DefaultVUs)
	v.SetDefault("iterations", DefaultIters)
	v.SetDefault("ramp_up", time.Duration(0))
	v.SetDefault("max_duration", time.Duration(0))
	v.SetDefault("iteration_timeout", loadtest.DefaultIterationTimeout)
	v.SetDefault("iterations_per_second", 0.0)
	v.SetDefault("thresholds", DefaultThresholds)

	v.SetDefault("request_timeout", koha.DefaultRequestTimeout)
	v.SetDefault("words_file", "")
	v.SetDefault("database", database)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics_addr", "")

	b := browser.DefaultOptions()
	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.exec_path", b.ExecPath)
	v.SetDefault("browser.no_sandbox", b.NoSandbox)
	v.SetDefault("browser.action_timeout", b.ActionTimeout)
	v.SetDefault("browser.idle_timeout", b.IdleTimeout)
	v.SetDefault("browser.window_width", b.WindowWidth)
	v.SetDefault("browser.window_height", b.WindowHeight)

	v.SetDefault("tls.insecure_skip_verify", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.ca_file", "")

	tw := twin.DefaultConfig()
	v.SetDefault("twin.addr", tw.Addr)
	v.SetDefault("twin.user", tw.User)
	v.SetDefault("twin.pass", tw.Pass)
	v.SetDefault("twin.latency", tw.Latency)
	v.SetDefault("twin.fail_rate", tw.FailRate)
	v.SetDefault("twin.restrict_patrons", tw.RestrictPatrons)
	v.SetDefault("twin.local_login", tw.LocalLogin)
	v.SetDefault("twin.verbose", tw.Verbose)
}

// Load merges defaults, the config file, an optional .env file and the
// environment into v and decodes the result. Flags bound to v by the caller
// take precedence over all of them.
func Load(v *viper.Viper, configFile, envFile string) (*Settings, error) {
	SetDefaults(v)

	if envFile != "" {
		// godotenv never overrides variables already set in the environment
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names used by existing CI jobs
	for key, env := range map[string]string{
		"staff_url": "STAFF_URL",
		"opac_url":  "OPAC_URL",
		"user":      "STAFF_USER",
		"pass":      "STAFF_PASS",
	} {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env); err != nil {
			return nil, err
		}
	}

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// Accept comma-separated entries from any source
	s.Thresholds = splitList(s.Thresholds)

	for _, p := range []*string{&s.Scenario.ScreenshotDir, &s.Database, &s.WordsFile, &s.Browser.ExecPath} {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	return &s, nil
}

func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
		return nil
	}

	if ConfigFile == "" {
		return nil
	}
	if _, err := os.Stat(ConfigFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(ConfigFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", ConfigFile, err)
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects durations the saved configuration cannot hold. Ramp-up,
// max duration and iteration timeout are stored in whole seconds.
func (s *Settings) Validate() error {
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"ramp_up", s.RampUp},
		{"max_duration", s.MaxDuration},
		{"iteration_timeout", s.IterationTimeout},
	} {
		if d.value == 0 {
			continue
		}
		if d.value < time.Second || d.value%time.Second != 0 {
			return fmt.Errorf("%s must be a whole number of seconds, got %s", d.key, d.value)
		}
	}
	return nil
}

// LoadTestConfig converts the settings into a load test configuration
func (s *Settings) LoadTestConfig() *loadtest.Config {
	return &loadtest.Config{
		Name:                s.Name,
		StaffURL:            s.Scenario.StaffURL,
		OPACURL:             s.Scenario.OPACURL,
		VUs:                 s.VUs,
		Iterations:          s.Iterations,
		RampUpDurationSec:   int(s.RampUp / time.Second),
		MaxDurationSec:      int(s.MaxDuration / time.Second),
		IterationTimeoutSec: int(s.IterationTimeout / time.Second),
		IterationsPerSecond: s.IterationsPerSecond,
		Thresholds:          s.Thresholds,
	}
}

// ApplyLoadTestConfig overlays a saved configuration onto the settings.
// Keys listed in keep were set explicitly on the command line and stay as they are.
func (s *Settings) ApplyLoadTestConfig(c *loadtest.Config, keep ...string) {
	explicit := make(map[string]bool, len(keep))
	for _, k := range keep {
		explicit[k] = true
	}
	set := func(key string, apply func()) {
		if !explicit[key] {
			apply()
		}
	}

	set("name", func() { s.Name = c.Name })
	set("staff_url", func() { s.Scenario.StaffURL = c.StaffURL })
	if c.OPACURL != "" {
		set("opac_url", func() { s.Scenario.OPACURL = c.OPACURL })
	}
	set("vus", func() { s.VUs = c.VUs })
	set("iterations", func() { s.Iterations = c.Iterations })
	set("ramp_up", func() { s.RampUp = time.Duration(c.RampUpDurationSec) * time.Second })
	set("max_duration", func() { s.MaxDuration = time.Duration(c.MaxDurationSec) * time.Second })
	set("iteration_timeout", func() { s.IterationTimeout = time.Duration(c.IterationTimeoutSec) * time.Second })
	set("iterations_per_second", func() { s.IterationsPerSecond = c.IterationsPerSecond })
	if len(c.Thresholds) > 0 {
		set("thresholds", func() { s.Thresholds = c.Thresholds })
	}
}
