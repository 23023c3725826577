package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gate-service/internal/hardware"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "ports",
		Short: "List serial ports the gate controller could be attached to",
		RunE:  runPorts,
	})
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := hardware.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
