package cmd

import (
	"fmt"

	"github.com/roffe/canconf"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range canconf.ListAdapters() {
			fmt.Println(a.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
