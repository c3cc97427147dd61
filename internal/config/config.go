package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvPrefix      = "RAIDHALL"
	ReleaseVersion = "0.4.0"
)

type Config struct {
	Bind         string
	Port         int
	DatabaseURL  string
	Seed         bool
	CatalogPath  string
	BaseURL      string
	Retention    time.Duration
	VoteDuration time.Duration
	WriteTimeout time.Duration
	QueueSize    int
	LogLevel     string
	Dev          bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.Retention <= 0 {
		return errors.New("--retention must be positive")
	}
	if c.VoteDuration < time.Second {
		return fmt.Errorf("--vote-duration must be at least 1s, got %s", c.VoteDuration)
	}
	if c.WriteTimeout <= 0 {
		return errors.New("--write-timeout must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("--queue-size must be at least 1, got %d", c.QueueSize)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid --log-level %q", c.LogLevel)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Logger builds the process logger: JSON in production, console in dev mode.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// LoadDotEnv reads .env style files into the environment. Missing files are
// fine; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// NewCommand returns the root command. Every flag can also be set through a
// RAIDHALL_ prefixed environment variable; explicit flags win.
func NewCommand(cfg *Config, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "raidhall",
		Short:   "Raid lobbies and boss encounters with live viewer voting.",
		Args:    cobra.ExactArgs(0),
		Version: ReleaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: RAIDHALL_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: RAIDHALL_PORT)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres DSN; empty keeps everything in memory (env: RAIDHALL_DATABASE_URL)")
	fs.BoolVar(&cfg.Seed, "seed", false, "insert sample characters on startup (env: RAIDHALL_SEED)")
	fs.StringVar(&cfg.CatalogPath, "catalog", "", "raid catalog yaml replacing the built-in one (env: RAIDHALL_CATALOG)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "public URL used in lobby QR codes (env: RAIDHALL_BASE_URL)")
	fs.DurationVar(&cfg.Retention, "retention", 10*time.Minute, "how long finished raids stay readable (env: RAIDHALL_RETENTION)")
	fs.DurationVar(&cfg.VoteDuration, "vote-duration", 30*time.Second, "default viewer vote window (env: RAIDHALL_VOTE_DURATION)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", 5*time.Second, "timeout for each store write (env: RAIDHALL_WRITE_TIMEOUT)")
	fs.IntVar(&cfg.QueueSize, "queue-size", 256, "pending leaderboard and reward writes (env: RAIDHALL_QUEUE_SIZE)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: RAIDHALL_LOG_LEVEL)")
	fs.BoolVar(&cfg.Dev, "dev", false, "human readable logs (env: RAIDHALL_DEV)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("raidhall v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
