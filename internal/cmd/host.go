package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/dysche/internal/bootcpu"
	"github.com/Iron-Ham/dysche/internal/config"
	"github.com/Iron-Ham/dysche/internal/inspect"
	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/util"
)

var cpecCmd = &cobra.Command{
	Use:   "cpec",
	Short: "Print the cross-partition memory region",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), util.FormatRange(uint64(cfg.CPEC.Size), uint64(cfg.CPEC.Addr)))
		return nil
	},
}

var layoutCmd = &cobra.Command{
	Use:   "layout [size@addr]",
	Short: "Print the partition memory layout",
	Long: `Print the fixed region table. Given a primary range, print the physical
address and usable capacity of every region inside it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLayout,
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Show host cores and memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		possible := bootcpu.PossibleCores(cfg.Host.CPUs, afero.NewOsFs(), cfg.Boot.SysfsCPURoot, nil)
		info := bootcpu.Host(possible)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render("Host"))
		fmt.Fprintln(out, labelStyle.Render("possible")+fmt.Sprint(info.PossibleCores))
		fmt.Fprintln(out, labelStyle.Render("logical")+fmt.Sprint(info.LogicalCores))
		fmt.Fprintln(out, labelStyle.Render("memory")+util.FormatSize(info.TotalMemory))
		tree := inspect.New(afero.NewOsFs(), cfg.Paths.ResolveRunDir())
		if c, err := tree.ReadRoot(inspect.FileCPEC); err == nil {
			fmt.Fprint(out, labelStyle.Render("cpec_mem")+c)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cpecCmd, layoutCmd, hostCmd)
}

func runLayout(cmd *cobra.Command, args []string) error {
	var primary layout.Range
	if len(args) == 1 {
		r, err := layout.ParseRange(args[0])
		if err != nil {
			return err
		}
		primary = r
	}

	out := cmd.OutOrStdout()
	cols := []int{14, 12, 12, 20, 12}
	row := func(cells ...string) string {
		s := ""
		for i, c := range cells {
			s += lipgloss.NewStyle().Width(cols[i]).Render(c) + " "
		}
		return s
	}
	fmt.Fprintln(out, headerStyle.Render(row("REGION", "OFFSET", "SIZE", "ADDRESS", "CAPACITY")))
	for _, r := range layout.Regions() {
		addr, capacity := "-", "-"
		if !primary.Empty() {
			if pa, err := layout.PhysAddr(primary, r); err == nil {
				addr = fmt.Sprintf("%#x", pa)
			}
			capacity = util.FormatSize(layout.Capacity(primary, r))
		}
		fmt.Fprintln(out, row(r.String(), util.FormatSize(layout.Offset(r)), util.FormatSize(layout.Size(r)), addr, capacity))
	}
	return nil
}
