package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rnwolfe/hooksched/internal/config"
	"github.com/rnwolfe/hooksched/internal/history"
	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/logging"
	"github.com/rnwolfe/hooksched/internal/priority"
	"github.com/rnwolfe/hooksched/internal/rollback"
	"github.com/rnwolfe/hooksched/internal/scheduler"
	"github.com/rnwolfe/hooksched/internal/store"
)

// app is the wired scheduler and everything it persists to.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *store.DB
	reg     *hook.Registry
	records *history.SQLStore // nil when history persistence is off
	journal *rollback.SQLJournal
	sys     *scheduler.System
}

// openApp loads config and manifests, replays persisted history and
// adjustments, and builds a System backed by an ExecRunner.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level: logLevel(cfg),
		File:  cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	opts, err := scheduler.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := store.Open()
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db, reg: reg}

	size := cfg.Performance.HistorySize
	hopts := []history.Option{
		history.WithLogger(logger),
		history.WithRecent(cfg.Priority.HistoryWindow),
	}
	if config.IsEnabled(cfg.Performance.Persist, true) {
		a.records = history.NewSQLStore(db.Conn())
		hopts = append(hopts, history.WithSink(a.records))
	}
	hist := history.New(size, hopts...)
	if a.records != nil {
		n, err := a.records.Load(hist, size)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("loading history: %w", err)
		}
		if pruned, err := a.records.Prune(size); err != nil {
			logger.Warn("pruning history", zap.Error(err))
		} else if pruned > 0 {
			logger.Debug("pruned history", zap.Int64("records", pruned))
		}
		logger.Debug("replayed history", zap.Int("records", n))
	}

	adj := priority.NewAdjustments(logger)
	if err := adj.Persist(db.Conn()); err != nil {
		db.Close()
		return nil, err
	}

	a.journal = rollback.NewSQLJournal(db.Conn())
	rb := rollback.NewManager(
		rollback.WithJournal(a.journal),
		rollback.WithLogger(logger),
	)

	a.sys = scheduler.New(reg, hook.NewExecRunner(reg),
		scheduler.WithOptions(opts),
		scheduler.WithHistory(hist),
		scheduler.WithAdjustments(adj),
		scheduler.WithRollbackManager(rb),
		scheduler.WithLogger(logger),
	)
	return a, nil
}

// Close flushes the logger and closes the database.
func (a *app) Close() error {
	// Sync fails on console writers; only the database error matters.
	_ = a.logger.Sync()
	return a.db.Close()
}

// loadRegistry registers every manifest in the hooks directory.
func loadRegistry() (*hook.Registry, error) {
	reg := hook.NewRegistry()
	if _, err := hook.LoadDir(hook.HooksDir(), reg); err != nil {
		return nil, fmt.Errorf("loading hooks: %w", err)
	}
	return reg, nil
}

// logLevel keeps stderr quiet unless --verbose is set or logs go to a file.
func logLevel(cfg *config.Config) string {
	if verbose {
		return "debug"
	}
	if cfg.Log.File != "" {
		return cfg.Log.Level
	}
	lvl, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil || lvl < zapcore.WarnLevel {
		return "warn"
	}
	return cfg.Log.Level
}

// contextFlag collects repeated --set key=value pairs into hook context
// values. Numbers and booleans are typed; everything else is a string.
type contextFlag map[string]any

var _ pflag.Value = contextFlag(nil)

func (c contextFlag) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c[k]))
	}
	return strings.Join(parts, ",")
}

func (c contextFlag) Set(s string) error {
	key, val, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	c[key] = parseContextValue(val)
	return nil
}

func (c contextFlag) Type() string { return "key=value" }

// context builds a hook context for trigger from the collected values.
func (c contextFlag) context(trigger string) *hook.Context {
	values := make(map[string]any, len(c))
	for k, v := range c {
		values[k] = v
	}
	return hook.NewContext(trigger, values)
}

func (c contextFlag) reset() {
	for k := range c {
		delete(c, k)
	}
}

func parseContextValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// addContextFlag registers --set on fs.
func addContextFlag(fs *pflag.FlagSet, c contextFlag) {
	fs.VarP(c, "set", "s", "Context value as key=value (repeatable), e.g. systemLoad=85")
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// closeApp closes a and folds its error into err.
func closeApp(a *app, err *error) {
	*err = multierr.Append(*err, a.Close())
}
