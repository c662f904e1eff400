package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayctl/ipmigo"
)

var sdrCmd = &cobra.Command{
	Use:   "sdr",
	Short: "List sensor data repository entries and their current readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialProfile()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Open(); err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}

		records, err := ipmigo.SDRGetRecordsRepo(c, func(id uint16, t ipmigo.SDRType) bool {
			return t == ipmigo.SDRTypeFullSensor || t == ipmigo.SDRTypeCompactSensor
		})
		if err != nil {
			return fmt.Errorf("failed to read SDR repository: %w", err)
		}

		for _, r := range records {
			var run, num uint8
			var name string
			switch s := r.(type) {
			case *ipmigo.SDRFullSensor:
				run, num, name = s.OwnerLUN, s.SensorNumber, s.SensorID()
			case *ipmigo.SDRCompactSensor:
				run, num, name = s.OwnerLUN, s.SensorNumber, s.SensorID()
			default:
				continue
			}

			gsr := &ipmigo.GetSensorReadingCommand{RsLUN: run, SensorNumber: num}
			if err := c.Execute(gsr); err != nil {
				// A per-sensor read failure shouldn't abort the whole listing.
				logger.Warn().Err(err).Str("sensor", name).Msg("sensor reading failed")
				continue
			}

			if full, ok := r.(*ipmigo.SDRFullSensor); ok && gsr.IsValid() && full.IsAnalogReading() {
				fmt.Printf("%-20s %8.2f %s\n", name, full.ConvertSensorReading(gsr.SensorReading), full.UnitString())
			} else {
				fmt.Printf("%-20s 0x%02x\n", name, gsr.SensorReading)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sdrCmd)
}
