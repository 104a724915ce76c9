package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/playclock/internal/config"
	"github.com/spf13/cobra"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file",
	Long: `Load the PlayClock configuration, apply defaults and validation, and
report keys the file sets that PlayClock does not recognise. With --dump
every effective setting is listed and values that differ from the default
are highlighted.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "List every effective setting")
	rootCmd.AddCommand(validateCmd)
}

// configField is one effective setting next to its default.
type configField struct {
	key    string
	value  any
	def    any
	secret bool
}

func (f configField) section() string {
	if i := strings.LastIndex(f.key, "."); i >= 0 {
		return f.key[:i]
	}
	return ""
}

func (f configField) name() string {
	return f.key[strings.LastIndex(f.key, ".")+1:]
}

func (f configField) modified() bool {
	return !reflect.DeepEqual(f.value, f.def)
}

func (f configField) display(v any) string {
	if f.secret {
		return redactPassword(fmt.Sprint(v))
	}
	return fmt.Sprint(v)
}

// configFields lists every setting in the order sections appear in the
// config file.
func configFields(cfg, def *config.Config) []configField {
	r, dr := cfg.Storage.Redis, def.Storage.Redis
	return []configField{
		{key: "server.bind_address", value: cfg.Server.BindAddress, def: def.Server.BindAddress},
		{key: "server.metrics_port", value: cfg.Server.MetricsPort, def: def.Server.MetricsPort},

		{key: "storage.type", value: cfg.Storage.Type, def: def.Storage.Type},
		{key: "storage.redis.host", value: r.Host, def: dr.Host},
		{key: "storage.redis.port", value: r.Port, def: dr.Port},
		{key: "storage.redis.password", value: r.Password, def: dr.Password, secret: true},
		{key: "storage.redis.db", value: r.DB, def: dr.DB},
		{key: "storage.redis.pool_size", value: r.PoolSize, def: dr.PoolSize},
		{key: "storage.redis.min_idle_conns", value: r.MinIdleConns, def: dr.MinIdleConns},
		{key: "storage.redis.dial_timeout", value: r.DialTimeout, def: dr.DialTimeout},
		{key: "storage.redis.read_timeout", value: r.ReadTimeout, def: dr.ReadTimeout},
		{key: "storage.redis.write_timeout", value: r.WriteTimeout, def: dr.WriteTimeout},
		{key: "storage.redis.handle_cache_size", value: r.HandleCacheSize, def: dr.HandleCacheSize},
		{key: "storage.redis.closed_session_ttl", value: r.ClosedSessionTTL, def: dr.ClosedSessionTTL},
		{key: "storage.redis.lock_ttl", value: r.LockTTL, def: dr.LockTTL},
		{key: "storage.redis.lock_wait", value: r.LockWait, def: dr.LockWait},

		{key: "logging.level", value: cfg.Logging.Level, def: def.Logging.Level},
		{key: "logging.format", value: cfg.Logging.Format, def: def.Logging.Format},

		{key: "playtime.session_ttl", value: cfg.Playtime.SessionTTL, def: def.Playtime.SessionTTL},
		{key: "playtime.timezone", value: cfg.Playtime.Timezone, def: def.Playtime.Timezone},

		{key: "sweeper.interval", value: cfg.Sweeper.Interval, def: def.Sweeper.Interval},
		{key: "sweeper.close_expired", value: cfg.Sweeper.CloseExpired, def: def.Sweeper.CloseExpired},
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = color.New(color.FgRed, color.Bold).Fprintf(errOut, "INVALID  %s\n", configPath)
		return err
	}

	// A missing file is valid, defaults apply
	unknown, err := config.UnknownKeys(configPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(errOut, "Could not scan for unknown keys: %v\n", err)
	}

	_, _ = color.New(color.FgGreen, color.Bold).Fprintf(out, "VALID    %s\n", configPath)
	writeUnknownKeys(out, unknown)

	if validateDump {
		writeFields(out, configFields(cfg, config.Default()))
	}
	return nil
}

func writeUnknownKeys(w io.Writer, unknown []string) {
	if len(unknown) == 0 {
		return
	}

	red := color.New(color.FgRed, color.Bold)
	_, _ = red.Fprintf(w, "\n%d unknown key(s) will be ignored:\n", len(unknown))
	for _, key := range unknown {
		_, _ = red.Fprintf(w, "  %s\n", key)
	}
}

func writeFields(w io.Writer, fields []configField) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	_, _ = cyan.Fprintf(w, "\n%s\n", separator)
	_, _ = cyan.Fprintln(w, "EFFECTIVE CONFIGURATION")
	_, _ = cyan.Fprintln(w, separator)

	section := ""
	for _, f := range fields {
		if s := f.section(); s != section {
			section = s
			_, _ = cyan.Fprintf(w, "\n[%s]\n", section)
		}

		if f.modified() {
			_, _ = yellow.Fprintf(w, "  %-20s %s  (default %s)\n", f.name(), f.display(f.value), f.display(f.def))
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-20s %s\n", f.name(), f.display(f.value))
	}
}

// redactPassword hides a non-empty secret.
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
