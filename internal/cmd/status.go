package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/dysche/internal/partition"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show partition status",
	Long: `Without a name, list every partition. With a name, show its memory ranges,
resources, heartbeat counters and the status the guest last reported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List partitions",
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd, listCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp("status", func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			inst, err := a.mgr.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderDetail(inst.Info()))
			return nil
		}

		var infos []partition.Info
		for _, inst := range a.mgr.List() {
			infos = append(infos, inst.Info())
		}
		renderList(out, infos, a.reg.Capacity())
		return nil
	})
}

func renderList(w io.Writer, infos []partition.Info, capacity int) {
	if len(infos) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No partitions"))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Partitions (%d/%d)", len(infos), capacity)))

	cols := []int{4, 12, 14, 8, 24, 8}
	row := func(cells ...string) string {
		var b strings.Builder
		for i, c := range cells {
			b.WriteString(lipgloss.NewStyle().Width(cols[i]).Render(c))
			b.WriteByte(' ')
		}
		return strings.TrimRight(b.String(), " ")
	}
	fmt.Fprintln(w, headerStyle.Render(row("ID", "NAME", "STATUS", "CPUS", "PRIMARY", "MISSED")))
	for _, info := range infos {
		primary := "-"
		if len(info.Ranges) > 0 {
			primary = formatRange(info.Ranges[0])
		}
		fmt.Fprintln(w, row(
			fmt.Sprint(info.Identity),
			info.Name,
			renderStatus(info.Status),
			info.CPUs,
			primary,
			fmt.Sprintf("%d/%d", info.Missed, info.MaxLost),
		))
	}
}

func renderDetail(info partition.Info) string {
	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	b.WriteString(titleStyle.Render(info.Name))
	b.WriteString("\n\n")
	line("identity", fmt.Sprint(info.Identity))
	line("status", renderStatus(info.Status))
	if info.SharedValid {
		line("guest status", info.SlaveStatus.String())
		line("heartbeat", fmt.Sprintf("host %d, guest %d, missed %d/%d",
			info.MasterCnt, info.SlaveCnt, info.Missed, info.MaxLost))
	} else {
		line("guest status", mutedStyle.Render("shared block not stamped"))
	}
	line("ostype", info.OSType)
	line("cpus", fmt.Sprintf("%s (boot core %d)", info.CPUs, info.BootCore))
	for i, r := range info.Ranges {
		label := "memory"
		if i == 0 {
			label = "primary"
		}
		line(label, formatRange(r))
	}
	line("cmdline", fmt.Sprintf("%q", info.Cmdline))
	line("restart", restartPolicy(info.Restart, info.Restarts))
	line("partep", onOff(info.Partep))
	if info.BootID != "" {
		line("boot id", info.BootID)
	}

	slots := make([]string, 0, len(info.Slots))
	for slot := range info.Slots {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		v := info.Slots[slot]
		if reason, ok := info.Disabled[slot]; ok {
			v = lipgloss.NewStyle().Foreground(colorError).Render("disabled: " + reason)
		}
		line(slot, v)
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func restartPolicy(policy, restarts int) string {
	switch {
	case policy < 0:
		return "never"
	case policy == 0:
		return fmt.Sprintf("unlimited (%d so far)", restarts)
	default:
		return fmt.Sprintf("%d/%d", restarts, policy)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
