package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/dysche/internal/config"
	"github.com/Iron-Ham/dysche/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View dysche configuration",
	Long: `View dysche configuration.

Without arguments, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a config file at $XDG_CONFIG_HOME/dysche/config.yaml holding every default.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	fmt.Fprintf(out, "# State dir:   %s\n", cfg.Paths.ResolveStateDir())
	fmt.Fprintf(out, "# Run dir:     %s\n\n", cfg.Paths.ResolveRunDir())

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	return enc.Close()
}

const configHeader = `# dysche configuration
#
# memory.device is /dev/mem or "sim"; with "sim", partitions live in files
# under the state directory covering memory.sim_ranges.
# boot.firmware is "device" (SBI hart management through firmware_device)
# or "sim". Every key can be overridden with DYSCHE_<SECTION>_<KEY>.

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if _, err := os.Stat(configFile); err == nil && !configInitForce {
		return errors.Kindf(errors.ErrInvalidState, "config file already exists at %s (use --force to overwrite)", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrIOFailure, err), "failed to create config directory")
	}

	body, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to render defaults: %w", err)
	}
	if err := os.WriteFile(configFile, append([]byte(configHeader), body...), 0o644); err != nil {
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrIOFailure, err), "failed to write config file")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "  2. /etc/dysche/config.yaml")
	fmt.Fprintln(out, "\nEnvironment variables: DYSCHE_* (e.g., DYSCHE_MEMORY_DEVICE)")
	return nil
}
