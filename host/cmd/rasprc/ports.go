package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rasprc/host/serial"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and show which one would be opened",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found")
				return nil
			}

			selected, fallback := serial.ResolvePort(cfg.Radio.Port, ports)
			for _, p := range ports {
				marker := "  "
				if p == selected {
					marker = "* "
				}
				fmt.Println(marker + p)
			}
			if fallback {
				fmt.Printf("\n%s not present, %s would be used\n", cfg.Radio.Port, selected)
			}
			return nil
		},
	}
}
