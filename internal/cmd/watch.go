package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/dysche/internal/config"
	"github.com/Iron-Ham/dysche/internal/inspect"
	"github.com/Iron-Ham/dysche/internal/partition"
	"github.com/Iron-Ham/dysche/internal/util"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the inspection tree",
	Long: `Watch renders every instance published in the inspection tree and
refreshes whenever an attribute changes. It never takes the state lock.

When stdout is not a terminal a single snapshot is printed instead.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// row is one instance as read back from the tree.
type row struct {
	name      string
	status    partition.Status
	cpu       string
	heartbeat string
	restart   string
	partep    string
	cmdline   string
}

func readRows(tree *inspect.Tree) ([]row, error) {
	names, err := tree.Names()
	if err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(names))
	for _, name := range names {
		snap, err := tree.Snapshot(name)
		if err != nil {
			// The directory may be mid-removal.
			continue
		}
		status, err := partition.ParseStatus(snap[inspect.AttrStatus])
		if err != nil {
			status = partition.StatusInvalid
		}
		rows = append(rows, row{
			name:      name,
			status:    status,
			cpu:       snap[inspect.AttrCPU],
			heartbeat: snap[inspect.AttrHeartbeat],
			restart:   snap[inspect.AttrRestart],
			partep:    snap[inspect.AttrPartep],
			cmdline:   snap[inspect.AttrCmdline],
		})
	}
	return rows, nil
}

func renderRows(rows []row, width int) string {
	var b strings.Builder
	if len(rows) == 0 {
		b.WriteString(mutedStyle.Render("no instances"))
		b.WriteString("\n")
		return b.String()
	}
	header := fmt.Sprintf("%-16s %-14s %-4s %-4s %-8s %-7s %s", "NAME", "STATUS", "CPU", "HB", "RESTART", "PARTEP", "CMDLINE")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")
	for _, r := range rows {
		status := lipgloss.NewStyle().Width(14).Render(renderStatus(r.status))
		line := fmt.Sprintf("%-16s %s %-4s %-4s %-8s %-7s %s",
			r.name, status, r.cpu, r.heartbeat, r.restart, r.partep, r.cmdline)
		if width > 0 {
			line = util.Truncate(line, width)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

type (
	refreshMsg  struct{}
	watchErrMsg struct{ err error }
)

type watchModel struct {
	tree    *inspect.Tree
	rows    []row
	err     error
	width   int
	updated time.Time
}

func (m watchModel) Init() tea.Cmd {
	return func() tea.Msg { return refreshMsg{} }
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, func() tea.Msg { return refreshMsg{} }
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case refreshMsg:
		rows, err := readRows(m.tree)
		m.err = err
		if err == nil {
			m.rows = rows
		}
		m.updated = time.Now()
	case watchErrMsg:
		m.err = msg.err
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("dysche"))
	b.WriteString(mutedStyle.Render("  " + m.tree.Root()))
	b.WriteString("\n\n")
	b.WriteString(renderRows(m.rows, m.width))
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(colorError).Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	footer := "q quit  r refresh"
	if !m.updated.IsZero() {
		footer += "  updated " + m.updated.Format("15:04:05")
	}
	b.WriteString(mutedStyle.Render(footer))
	return b.String()
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	root := cfg.Paths.ResolveRunDir()
	tree := inspect.New(afero.NewOsFs(), root)

	if !term.IsTerminal(os.Stdout.Fd()) {
		return printOnce(cmd.OutOrStdout(), tree)
	}

	p := tea.NewProgram(watchModel{tree: tree}, tea.WithAltScreen())
	w, err := inspect.NewWatcher(root,
		inspect.OnChange(func([]string) { p.Send(refreshMsg{}) }),
		inspect.OnError(func(err error) { p.Send(watchErrMsg{err: err}) }),
	)
	if err != nil {
		return err
	}
	w.Start()
	defer w.Stop()

	_, err = p.Run()
	return err
}

func printOnce(out io.Writer, tree *inspect.Tree) error {
	rows, err := readRows(tree)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, renderRows(rows, 0))
	return err
}
