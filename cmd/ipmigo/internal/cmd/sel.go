package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayctl/ipmigo"
)

var selCount int

var selCmd = &cobra.Command{
	Use:   "sel",
	Short: "Show the most recent system event log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialProfile()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Open(); err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}

		_, total, err := ipmigo.SELGetEntries(c, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to read SEL info: %w", err)
		}

		offset := 0
		if total > selCount {
			offset = total - selCount
		}
		records, _, err := ipmigo.SELGetEntries(c, offset, selCount)
		if err != nil {
			return fmt.Errorf("failed to read SEL entries: %w", err)
		}

		for _, r := range records {
			if e, ok := r.(*ipmigo.SELEventRecord); ok {
				fmt.Printf("%-6d %-25s %-20s %s\n", e.RecordID, &e.Timestamp, e.SensorType, e.Description())
			} else {
				fmt.Printf("%-6d (non-event record type 0x%02x)\n", r.ID(), r.Type())
			}
		}
		return nil
	},
}

func init() {
	selCmd.Flags().IntVar(&selCount, "count", 10, "number of most recent entries to show")
	rootCmd.AddCommand(selCmd)
}
