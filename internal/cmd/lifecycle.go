package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/dysche/internal/partition"
)

var createCmd = &cobra.Command{
	Use:   "create <key=value>...",
	Short: "Create a partition and boot it",
	Long: `Create a partition from a configuration request and boot it.

Keys:
  slave_name=<name>            instance name (required, at most 64 bytes)
  memory=<size>@<addr>[,...]   up to 4 physical ranges; the first is primary
  cpu_ids=<cpulist>            cores to use; the lowest is the boot core
  kernel=<path>                kernel image (required)
  rootfs=<path>                initial ramdisk
  fdt=<path>                   device tree to patch instead of generating one
  cmdline=<string>             boot command line; quote to include spaces
  ostype=linux|other

A partition that fails to boot is destroyed again unless --no-run is given.

Example:
  dysche create slave_name=vm0 memory=256M@0x80000000 cpu_ids=2 \
      kernel=/boot/Image cmdline="console=ttyS0 earlycon"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

var createNoRun bool

var runCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Boot a created partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("run", func(ctx context.Context, a *app) error {
			if err := a.mgr.Run(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s running\n", args[0])
			return nil
		})
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot <name>",
	Short: "Restart a running or lost partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("reboot", func(ctx context.Context, a *app) error {
			if err := a.mgr.Reboot(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rebooted\n", args[0])
			return nil
		})
	},
}

var destroyCmd = &cobra.Command{
	Use:     "destroy <name>",
	Aliases: []string{"rm"},
	Short:   "Tear a partition down and free its identity",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("destroy", func(ctx context.Context, a *app) error {
			if err := a.mgr.Destroy(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s destroyed\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(createCmd, runCmd, rebootCmd, destroyCmd)
	createCmd.Flags().BoolVar(&createNoRun, "no-run", false, "create only, do not boot")
}

func runCreate(cmd *cobra.Command, args []string) error {
	request := joinRequest(args)
	return withApp("create", func(ctx context.Context, a *app) error {
		var (
			inst *partition.Instance
			err  error
		)
		if createNoRun {
			inst, err = a.mgr.Create(ctx, request)
		} else {
			inst, err = a.mgr.CreateAndRun(ctx, request)
		}
		if err != nil {
			return err
		}
		info := inst.Info()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (identity %d, boot core %d)\n",
			info.Name, info.Status, info.Identity, info.BootCore)
		return nil
	})
}

// joinRequest rebuilds a request string from shell arguments, quoting
// values the shell already split on.
func joinRequest(args []string) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if ok && strings.ContainsAny(value, " \t") && !strings.HasPrefix(value, `"`) {
			arg = key + `="` + value + `"`
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
