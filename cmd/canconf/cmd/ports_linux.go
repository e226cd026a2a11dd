package cmd

import (
	"fmt"

	"github.com/roffe/canconf"
)

func printCANInterfaces() {
	for _, dev := range canconf.FindDevices() {
		fmt.Printf("socketcan: %s\n", dev)
	}
}
