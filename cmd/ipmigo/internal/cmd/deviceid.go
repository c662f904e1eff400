package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayctl/ipmigo"
)

var deviceIDCmd = &cobra.Command{
	Use:   "device-id",
	Short: "Show the BMC's Get Device ID response",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialProfile()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Open(); err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}

		gdi := &ipmigo.GetDeviceIDCommand{}
		if err := c.Execute(gdi); err != nil {
			return fmt.Errorf("Get Device ID failed: %w", err)
		}

		fmt.Printf("Device ID:          0x%02x\n", gdi.DeviceID)
		fmt.Printf("Device Revision:    %d\n", gdi.DeviceRevision)
		fmt.Printf("Firmware Revision:  %d.%d\n", gdi.FirmwareMajorRevision, gdi.FirmwareMinorRevision)
		fmt.Printf("IPMI Version:       %d.%d\n", gdi.IPMIVersion&0x0f, gdi.IPMIVersion>>4)
		fmt.Printf("Device Available:   %t\n", gdi.DeviceAvailable)
		fmt.Printf("Provides SDRs:      %t\n", gdi.DeviceProvidesSDRs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deviceIDCmd)
}
