package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/dysche/internal/config"
	"github.com/Iron-Ham/dysche/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "dysche",
	Short: "Partition launcher",
	Long: `Dysche boots additional operating system instances on reserved cores and
physical memory of a running host. Each partition gets a fixed memory layout,
a loader stub, a device tree and its kernel, and is started on its boot core
through the platform firmware.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		reportError(os.Stderr, err)
	}
	return err
}

// reportError prints err with its kind. Errors outside the taxonomy carry
// no kind and point at the log instead.
func reportError(w io.Writer, err error) {
	style := lipgloss.NewStyle().Bold(true).Foreground(severityColor(errors.GetSeverity(err)))
	if !errors.IsUserFacing(err) {
		fmt.Fprintf(w, "%s %v\n", style.Render("Error:"), err)
		fmt.Fprintln(w, mutedStyle.Render("Run 'dysche logs' for details."))
		return
	}
	label := "Error:"
	if kind := errors.KindOf(err); kind != nil {
		label = fmt.Sprintf("Error (%v):", kind)
	}
	fmt.Fprintf(w, "%s %v\n", style.Render(label), err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/dysche/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("/etc/dysche")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DYSCHE")
	// DYSCHE_MEMORY_DEVICE for memory.device
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
