package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get and set the daemon's review rules",
	}

	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configLocalCmd())

	return cmd
}

// configLocalCmd edits the daemon's config.toml on this machine,
// git-config style. Hot-reloadable keys take effect without a restart.
func configLocalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Get and set local daemon configuration (config.toml)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !config.IsValidKey(key) {
				return fmt.Errorf("unknown config key: %q", key)
			}
			cfg, err := config.LoadGlobal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetConfigValue(cfg, key)
			if err != nil {
				return err
			}
			if !config.IsConfigValueSet(cfg, key) {
				return fmt.Errorf("key %q is not set", key)
			}
			fmt.Println(val)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			cfg, err := config.LoadGlobal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := config.SaveGlobal(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("%s = %s\n", key, maskIfSensitive(key, value))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			for _, kv := range config.ListConfigKeys(cfg) {
				fmt.Printf("%s = %s\n", kv.Key, maskIfSensitive(kv.Key, kv.Value))
			}
			return nil
		},
	})

	return cmd
}

func maskIfSensitive(key, value string) string {
	if config.IsSensitiveKey(key) {
		return config.MaskValue(value)
	}
	return value
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the active review rules as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()
			rules, err := client.GetRules()
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(rules)
			if err != nil {
				return fmt.Errorf("encode rules: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	var file string
	var maxLineLength int
	var disableRules, enableRules []string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update review rules",
		Long: `Update review rules on the running daemon.

Omitted fields keep their current values. Changes apply to the next
review without a restart.

Examples:
  reviewagent config set --max-line-length 100
  reviewagent config set --disable style/trailing-whitespace
  reviewagent config set -f rules.yaml    # Replace from a file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()

			var rules *config.Rules
			if file != "" {
				loaded, err := config.LoadRulesFrom(file)
				if err != nil {
					return fmt.Errorf("load rules from %s: %w", file, err)
				}
				rules = loaded
			} else {
				current, err := client.GetRules()
				if err != nil {
					return err
				}
				rules = current
			}

			if maxLineLength > 0 {
				rules.MaxLineLength = maxLineLength
			}
			for _, rule := range disableRules {
				if !contains(rules.DisabledRules, rule) {
					rules.DisabledRules = append(rules.DisabledRules, rule)
				}
			}
			for _, rule := range enableRules {
				rules.DisabledRules = remove(rules.DisabledRules, rule)
			}

			updated, err := client.UpdateRules(rules)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(updated)
			if err != nil {
				return fmt.Errorf("encode rules: %w", err)
			}
			fmt.Fprintln(os.Stderr, "Rules updated")
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "replace rules from a YAML file")
	cmd.Flags().IntVar(&maxLineLength, "max-line-length", 0, "maximum line length for the style analyzer")
	cmd.Flags().StringArrayVar(&disableRules, "disable", nil, "rule ID to disable (repeatable)")
	cmd.Flags().StringArrayVar(&enableRules, "enable", nil, "rule ID to re-enable (repeatable)")
	return cmd
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
