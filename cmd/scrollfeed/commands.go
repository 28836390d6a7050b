package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/Sternrassler/scrollfeed/pkg/viewport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCommand creates the scrollfeed command tree.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "scrollfeed",
		Short:         "Infinite-scroll reader for paged list endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCommand(),
		newVersionCommand(),
	)

	return root
}

// newRunCommand creates the run command
func newRunCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load an endpoint page by page until it is exhausted",
		Example: `  scrollfeed run --endpoint https://jsonplaceholder.typicode.com/posts \
    --limit-param _limit --page-param _page --page-size 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	def := defaultConfig()
	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file path (yaml, json or toml)")
	flags.String("endpoint", def.Endpoint, "list endpoint URL")
	flags.Int("page-size", def.PageSize, "records per page (clamped to 1-100)")
	flags.String("limit-param", def.LimitParam, "query parameter carrying the page size")
	flags.String("page-param", def.PageParam, "query parameter carrying the page index")
	flags.String("user-agent", def.UserAgent, "User-Agent header")
	flags.Duration("timeout", def.Timeout, "per-request timeout (0 = none)")
	flags.Int("max-pages", def.MaxPages, "stop after this many pages (0 = until exhausted)")
	flags.Int("max-failures", def.MaxFailures, "give up after this many consecutive failed fetches")
	flags.Duration("retry-delay", def.RetryDelay, "pause before scrolling again after a failed fetch")
	flags.Int("viewport-rows", def.ViewportRows, "rows visible at once")
	flags.Float64("threshold", def.Threshold, "fraction of the sentinel that must be visible")
	flags.Float64("root-margin", def.RootMargin, "rows added around the viewport when testing visibility")
	flags.String("redis-addr", def.RedisAddr, "Redis address for shared rate limit state (optional)")
	flags.String("metrics-addr", def.MetricsAddr, "address to serve Prometheus metrics on (optional)")
	flags.String("log-level", def.LogLevel, "log level (debug, info, warn, error, disabled)")
	flags.Bool("pretty", def.Pretty, "human-readable logs")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scrollfeed %s\n", version)
		},
	}
}

// Config is the resolved run configuration.
type Config struct {
	Endpoint     string
	PageSize     int
	LimitParam   string
	PageParam    string
	UserAgent    string
	Timeout      time.Duration
	MaxPages     int
	MaxFailures  int
	RetryDelay   time.Duration
	ViewportRows int
	Threshold    float64
	RootMargin   float64
	RedisAddr    string
	MetricsAddr  string
	LogLevel     string
	Pretty       bool
}

func defaultConfig() Config {
	opts := viewport.DefaultOptions()
	return Config{
		PageSize:     pagination.DefaultPageSize,
		LimitParam:   "limit",
		PageParam:    "page",
		UserAgent:    "scrollfeed/" + version,
		MaxFailures:  3,
		RetryDelay:   time.Second,
		ViewportRows: 10,
		Threshold:    opts.Threshold,
		RootMargin:   opts.RootMargin,
		LogLevel:     "info",
	}
}

// loadConfig resolves flags, SCROLLFEED_* environment variables and an
// optional config file, in that order of precedence. Page sizes outside
// [1, pagination.MaxPageSize] are clamped; non-positive ones use the default.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	v.SetEnvPrefix("SCROLLFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	def := defaultConfig()
	cfg := Config{
		Endpoint:     getStringOrDefault(v, "endpoint", def.Endpoint),
		PageSize:     pagination.NormalizePageSize(getIntOrDefault(v, "page-size", def.PageSize)),
		LimitParam:   getStringOrDefault(v, "limit-param", def.LimitParam),
		PageParam:    getStringOrDefault(v, "page-param", def.PageParam),
		UserAgent:    getStringOrDefault(v, "user-agent", def.UserAgent),
		Timeout:      getDurationOrDefault(v, "timeout", def.Timeout),
		MaxPages:     getIntOrDefault(v, "max-pages", def.MaxPages),
		MaxFailures:  getIntOrDefault(v, "max-failures", def.MaxFailures),
		RetryDelay:   getDurationOrDefault(v, "retry-delay", def.RetryDelay),
		ViewportRows: getIntOrDefault(v, "viewport-rows", def.ViewportRows),
		Threshold:    getFloat64OrDefault(v, "threshold", def.Threshold),
		RootMargin:   getFloat64OrDefault(v, "root-margin", def.RootMargin),
		RedisAddr:    getStringOrDefault(v, "redis-addr", def.RedisAddr),
		MetricsAddr:  getStringOrDefault(v, "metrics-addr", def.MetricsAddr),
		LogLevel:     getStringOrDefault(v, "log-level", def.LogLevel),
		Pretty:       v.GetBool("pretty"),
	}

	if cfg.Endpoint == "" {
		return Config{}, fmt.Errorf("endpoint is required")
	}
	if cfg.ViewportRows < 1 {
		return Config{}, fmt.Errorf("viewport-rows must be >= 1 (got %d)", cfg.ViewportRows)
	}
	if cfg.MaxFailures < 1 {
		return Config{}, fmt.Errorf("max-failures must be >= 1 (got %d)", cfg.MaxFailures)
	}

	return cfg, nil
}

func getDurationOrDefault(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return defaultValue
}

func getIntOrDefault(v *viper.Viper, key string, defaultValue int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return defaultValue
}

func getFloat64OrDefault(v *viper.Viper, key string, defaultValue float64) float64 {
	if v.IsSet(key) {
		return v.GetFloat64(key)
	}
	return defaultValue
}

func getStringOrDefault(v *viper.Viper, key string, defaultValue string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return defaultValue
}
