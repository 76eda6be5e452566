package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"rasprc/host/link"
	"rasprc/protocol"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive session for configuration and frame I/O",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			engine, err := openEngine(ctx, &logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			fmt.Printf("Connected to %s. Type 'help' for commands, 'quit' to exit.\n", engine.PortName())
			return runConsole(ctx, engine, os.Stdin, os.Stdout)
		},
	}
}

// runConsole reads commands from in until EOF, quit or ctx is done.
func runConsole(ctx context.Context, engine *link.Engine, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}

		if parts[0] == "quit" || parts[0] == "exit" || parts[0] == "q" {
			return nil
		}
		if err := runConsoleCommand(ctx, engine, parts[0], parts[1:], out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func runConsoleCommand(ctx context.Context, engine *link.Engine, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "help", "?":
		printConsoleHelp(out)

	case "status":
		fmt.Fprintf(out, "port=%s open=%v\n", engine.PortName(), engine.IsOpen())
		fmt.Fprintf(out, "live config: %s\n", engine.Config())

	case "get":
		rc, err := engine.GetConfiguration(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, rc)

	case "put":
		rc, err := applyAssignments(engine.Config(), args)
		if err != nil {
			return err
		}
		lines, err := engine.PutConfiguration(ctx, rc)
		for _, l := range lines {
			fmt.Fprintln(out, "  "+l)
		}
		return err

	case "read":
		text, err := engine.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Fprintln(out, "(nothing buffered)")
			return nil
		}
		fmt.Fprint(out, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprintln(out)
		}

	case "write", "send":
		hex, err := frameArgument(args)
		if err != nil {
			return err
		}
		res, err := engine.WriteFrame(ctx, hex)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", res, hex)

	case "encode":
		hex, err := encodeArgs(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, hex)

	case "decode":
		if len(args) != 1 {
			return fmt.Errorf("usage: decode <24 hex digits>")
		}
		frame, err := protocol.DecodeFrame(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, frame.Values())

	case "start":
		return engine.Start(ctx)

	case "stop":
		return engine.Stop(ctx)

	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	return nil
}

// frameArgument accepts either one hex frame or eight channel values.
func frameArgument(args []string) (string, error) {
	switch len(args) {
	case 1:
		return strings.ToUpper(args[0]), nil
	case protocol.ChannelCount:
		return encodeArgs(args)
	default:
		return "", fmt.Errorf("usage: write <24 hex digits> | write v1 ... v8")
	}
}

func encodeArgs(args []string) (string, error) {
	values := make([]int, 0, len(args))
	for _, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return "", fmt.Errorf("invalid channel value %q", a)
		}
		values = append(values, v)
	}
	return protocol.EncodeFrame(values)
}

// applyAssignments updates rc from key=value arguments.
func applyAssignments(rc protocol.RadioConfig, args []string) (protocol.RadioConfig, error) {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return rc, fmt.Errorf("expected key=value, got %q", arg)
		}

		var err error
		switch strings.ToLower(key) {
		case "baud":
			rc.BaudRate, err = strconv.Atoi(value)
		case "rate":
			rc.Rate, err = strconv.Atoi(value)
		case "channel", "ch":
			rc.Channel, err = strconv.Atoi(value)
		case "crc":
			rc.CRC, err = strconv.Atoi(value)
		case "tx", "txaddress":
			rc.TXAddress = strings.ToUpper(value)
		case "rx", "rxaddress":
			rc.RXAddress = strings.ToUpper(value)
		default:
			return rc, fmt.Errorf("unknown setting %q", key)
		}
		if err != nil {
			return rc, fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return rc, nil
}

func printConsoleHelp(out io.Writer) {
	fmt.Fprintln(out, `Commands:
  status                     show port and live configuration
  get                        query the module (AT?)
  put [key=value ...]        write the live configuration with overrides
                             keys: baud rate channel crc tx rx
  read                       print buffered received text
  write <hex> | write v1..v8 send one channel frame
  encode v1 ... v8           print the hex frame for eight values
  decode <hex>               print the values of a hex frame
  start | stop               open or close the serial link
  quit                       exit`)
}
