package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and CAN interfaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
		}
		for _, port := range ports {
			fmt.Printf("port: %s\n", port.Name)
			if port.IsUSB {
				fmt.Printf("   USB ID      %s:%s\n", port.VID, port.PID)
				fmt.Printf("   USB serial  %s\n", port.SerialNumber)
				if port.Product != "" {
					fmt.Printf("   product     %s\n", port.Product)
				}
			}
		}
		printCANInterfaces()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
