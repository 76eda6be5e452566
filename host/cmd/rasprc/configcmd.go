package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rasprc/host/config"
	"rasprc/protocol"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or write the radio module configuration",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigPutCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Query the module with AT? and print its configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			engine, err := openEngine(ctx, &logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			rc, err := engine.GetConfiguration(ctx)
			if err != nil {
				return err
			}
			return printRadioConfig(rc, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml, json or text")
	return cmd
}

func printRadioConfig(rc protocol.RadioConfig, format string) error {
	section := config.FromRadioConfig(rc)

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(map[string]config.RadioSection{"radio": section})
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(section)
	case "text":
		fmt.Println(rc.String())
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newConfigPutCmd() *cobra.Command {
	var (
		channel int
		rate    int
		crc     int
		txAddr  string
		rxAddr  string
	)

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Write the configured radio settings to the module",
		Long: `Sends AT+BAUD, AT+RATE, AT+CRC, AT+FREQ, AT+TXA and AT+RXA built from the
radio section of the config file, overridden by the flags below.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("channel") {
				cfg.Radio.Channel = channel
			}
			if flags.Changed("rate") {
				cfg.Radio.Rate = rate
			}
			if flags.Changed("crc") {
				cfg.Radio.CRC = crc
			}
			if flags.Changed("tx") {
				cfg.Radio.TXAddress = txAddr
			}
			if flags.Changed("rx") {
				cfg.Radio.RXAddress = rxAddr
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			engine, err := openEngine(ctx, &logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			lines, err := engine.PutConfiguration(ctx, cfg.RadioConfig())
			for _, line := range lines {
				fmt.Println(line)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.IntVar(&channel, "channel", 0, "RF channel 0-125 (2400+n MHz)")
	f.IntVar(&rate, "rate", 0, "air data rate: 250 (Kbps), 1 or 2 (Mbps)")
	f.IntVar(&crc, "crc", 0, "CRC width: 8 or 16")
	f.StringVar(&txAddr, "tx", "", "TX address, 10 hex digits")
	f.StringVar(&rxAddr, "rx", "", "RX address, 10 hex digits")
	return cmd
}
