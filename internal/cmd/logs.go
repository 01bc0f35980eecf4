package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/dysche/internal/config"
	"github.com/Iron-Ham/dysche/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View dysche logs",
	Long: `View and filter the dysche log.

Examples:
  # Show the last 50 entries
  dysche logs

  # Everything about one partition
  dysche logs -i vm0 -n 0

  # Follow warnings and errors
  dysche logs -f --level warn

  # Entries from the last hour mentioning the device tree
  dysche logs --since 1h --grep "device tree"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail     int
	logsFollow   bool
	logsLevel    string
	logsSince    string
	logsGrep     string
	logsInstance string
	logsPhase    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Show entries whose message contains this text")
	logsCmd.Flags().StringVarP(&logsInstance, "instance", "i", "", "Show entries for one partition")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Show entries for one phase (create/run/destroy/...)")
}

var levelStyles = map[string]lipgloss.Style{
	logging.LevelDebug: lipgloss.NewStyle().Foreground(colorMuted),
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")),
	logging.LevelWarn:  lipgloss.NewStyle().Foreground(colorWarn),
	logging.LevelError: lipgloss.NewStyle().Foreground(colorError),
}

func formatEntry(e logging.LogEntry) string {
	line := e.Format()
	if style, ok := levelStyles[strings.ToUpper(e.Level)]; ok {
		return style.Render(line)
	}
	return line
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	stateDir := cfg.Paths.ResolveStateDir()

	filter := logging.LogFilter{
		Level:           logsLevel,
		Instance:        logsInstance,
		Phase:           logsPhase,
		MessageContains: logsGrep,
		Limit:           logsTail,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}

	out := cmd.OutOrStdout()
	if logsFollow {
		return followLogs(out, filepath.Join(stateDir, logging.FileName), filter)
	}

	entries, err := logging.AggregateLogs(stateDir)
	if err != nil {
		return err
	}
	entries = logging.FilterLogs(entries, filter)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(out, formatEntry(e))
	}
	return nil
}

// followLogs implements tail -f behavior for the log file
func followLogs(out io.Writer, logPath string, filter logging.LogFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	filter.Limit = 0
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error reading log file: %w", err)
		}
		entries, _ := logging.ReadEntries(strings.NewReader(line))
		for _, e := range logging.FilterLogs(entries, filter) {
			fmt.Fprintln(out, formatEntry(e))
		}
	}
}
