package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/fdt"
	"github.com/Iron-Ham/dysche/internal/layout"
)

var fdtCmd = &cobra.Command{
	Use:   "fdt",
	Short: "Device tree utilities",
}

var fdtDumpCmd = &cobra.Command{
	Use:   "dump <file.dtb>",
	Short: "Print a flattened device tree as text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("%w: %w", errors.ErrIOFailure, err)
		}
		tree, err := fdt.Parse(blob)
		if err != nil {
			return err
		}
		return tree.Dump(cmd.OutOrStdout())
	},
}

var (
	fdtGenMemory  string
	fdtGenCmdline string
	fdtGenOut     string
	fdtGenInitrd  uint64
)

var fdtGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the device tree a partition would boot with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ranges, err := layout.ParseRangeList(fdtGenMemory)
		if err != nil {
			return err
		}
		blob, err := fdt.Generate(fdt.Params{
			Cmdline:    fdtGenCmdline,
			Ranges:     ranges,
			RootfsSize: fdtGenInitrd,
		})
		if err != nil {
			return err
		}
		if fdtGenOut == "" || fdtGenOut == "-" {
			tree, err := fdt.Parse(blob)
			if err != nil {
				return err
			}
			return tree.Dump(cmd.OutOrStdout())
		}
		if err := os.WriteFile(fdtGenOut, blob, 0o644); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrIOFailure, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(blob), fdtGenOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fdtCmd)
	fdtCmd.AddCommand(fdtDumpCmd, fdtGenerateCmd)

	fdtGenerateCmd.Flags().StringVar(&fdtGenMemory, "memory", "", "memory ranges, size@addr[,...]")
	fdtGenerateCmd.Flags().StringVar(&fdtGenCmdline, "cmdline", "", "bootargs")
	fdtGenerateCmd.Flags().StringVarP(&fdtGenOut, "output", "o", "", "write the blob here instead of dumping it")
	fdtGenerateCmd.Flags().Uint64Var(&fdtGenInitrd, "initrd-size", 0, "initrd length in bytes")
	_ = fdtGenerateCmd.MarkFlagRequired("memory")
}
