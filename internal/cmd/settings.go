package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/inspect"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <name> [missed-ticks]",
	Short: "Show or set the missed-heartbeat threshold",
	Long: `Show or set how many supervisor ticks a partition may miss before it is
marked lost.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return attrCommand(cmd, args, "heartbeat", inspect.AttrHeartbeat, func(ctx context.Context, a *app, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Kindf(errors.ErrInvalidArgument, "heartbeat %q is not a number", v)
			}
			return a.mgr.SetHeartbeat(ctx, args[0], n)
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <name> [policy]",
	Short: "Show or set the restart policy",
	Long: `Show or set what happens when a partition is lost:
  -1  never restart
   0  restart without limit
   N  restart at most N times`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return attrCommand(cmd, args, "restart", inspect.AttrRestart, func(ctx context.Context, a *app, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Kindf(errors.ErrInvalidArgument, "restart policy %q is not a number", v)
			}
			return a.mgr.SetRestart(ctx, args[0], n)
		})
	},
}

var partepCmd = &cobra.Command{
	Use:   "partep <name> [on|off]",
	Short: "Show or toggle the partition endpoint",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return attrCommand(cmd, args, "partep", inspect.AttrPartep, func(ctx context.Context, a *app, v string) error {
			on, err := inspect.ParseBool(v)
			if err != nil {
				return err
			}
			return a.mgr.SetPartep(ctx, args[0], on)
		})
	},
}

func init() {
	rootCmd.AddCommand(heartbeatCmd, restartCmd, partepCmd)
	// "restart vm0 -1" must not parse -1 as a flag.
	restartCmd.Flags().SetInterspersed(false)
}

// attrCommand prints attr of args[0], or applies args[1] through set and
// prints the new value.
func attrCommand(cmd *cobra.Command, args []string, name, attr string, set func(context.Context, *app, string) error) error {
	return withApp(name, func(ctx context.Context, a *app) error {
		if _, err := a.mgr.Get(args[0]); err != nil {
			return err
		}
		if len(args) == 2 {
			if err := set(ctx, a, args[1]); err != nil {
				return err
			}
		}
		v, err := a.tree.Read(args[0], attr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", v)
		return nil
	})
}
