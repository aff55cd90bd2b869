package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rnwolfe/hooksched/internal/config"
	"github.com/rnwolfe/hooksched/internal/scheduler"
	"github.com/rnwolfe/hooksched/internal/ui"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage configuration",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	Run: func(_ *cobra.Command, _ []string) {
		paths := config.GetPaths()
		fmt.Println(paths.ConfigFile)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every configuration value",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Supported keys:\n" + keyHelp(),
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigUnset,
}

func keyHelp() string {
	var b strings.Builder
	for _, k := range config.ValidKeyNames() {
		e, _ := config.LookupKey(k)
		fmt.Fprintf(&b, "  %-36s %s\n", k, e.Desc)
	}
	return b.String()
}

func lookupKey(key string) (*config.KeyEntry, error) {
	entry, ok := config.LookupKey(key)
	if !ok {
		return nil, fmt.Errorf("unknown config key %q (valid keys: %s)",
			key, strings.Join(config.ValidKeyNames(), ", "))
	}
	return entry, nil
}

func runConfigSet(_ *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	entry, err := lookupKey(key)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := entry.Set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := scheduler.OptionsFromConfig(cfg); err != nil {
		return err
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	ui.Ok(fmt.Sprintf("%s = %s", key, entry.Get(cfg)))
	return nil
}

func runConfigGet(_ *cobra.Command, args []string) error {
	entry, err := lookupKey(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println(entry.Get(cfg))
	return nil
}

func runConfigUnset(_ *cobra.Command, args []string) error {
	key := args[0]

	entry, err := lookupKey(key)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	entry.Unset(cfg)
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	ui.Ok(fmt.Sprintf("%s reset to %s", key, entry.Get(cfg)))
	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	paths := config.GetPaths()

	ui.Header("Configuration")
	fmt.Println()
	for _, k := range config.ValidKeyNames() {
		e, _ := config.LookupKey(k)
		ui.Kv(k, e.Get(cfg))
	}
	if len(cfg.Scheduler.ConflictStrategies) > 0 {
		fmt.Println()
		triggers := make([]string, 0, len(cfg.Scheduler.ConflictStrategies))
		for t := range cfg.Scheduler.ConflictStrategies {
			triggers = append(triggers, t)
		}
		sort.Strings(triggers)
		for _, t := range triggers {
			ui.Kv("strategy["+t+"]", cfg.Scheduler.ConflictStrategies[t])
		}
	}
	fmt.Println()
	ui.Kv("Config", paths.ConfigFile)
	ui.Kv("Data", paths.DBFile)
	ui.Kv("Hooks", paths.ConfigDir+"/hooks")
	fmt.Println()
	if !config.Initialized() {
		ui.Inf("No config file yet; these are the defaults.")
	}
	ui.Tip(fmt.Sprintf("Edit directly: %s", ui.Accent.Render("$EDITOR "+paths.ConfigFile)))
	fmt.Println()

	return nil
}
