// Command smpctl is a thin collaborator around package smp: flag
// parsing, serial-port auto-detection, progress-bar rendering, and exit
// codes.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mcumgr-go/smp"
	"github.com/mcumgr-go/smp/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("smpctl", flag.ContinueOnError)

	device := fs.String("device", "", "serial device path, or \"test\" for the in-memory emulator")
	verbose := fs.Bool("v", false, "verbose logging")
	initialTimeout := fs.Uint("initial_timeout", 60, "initial timeout in seconds")
	subsequentTimeout := fs.Uint("subsequent_timeout", 200, "subsequent timeout in milliseconds")
	nbRetry := fs.Uint("nb_retry", 4, "number of retries per packet")
	lineLength := fs.Int("linelength", 128, "maximum length per line")
	mtu := fs.Int("mtu", 512, "maximum length per request")
	baudrate := fs.Uint("baudrate", 115200, "baudrate")
	slot := fs.Uint("slot", 1, "slot number (upload/erase)")
	confirm := fs.String("confirm", "", "true/false, for the test subcommand")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: smpctl [flags] <list|reset|upload|test|erase> [args]")
		return 1
	}
	cmd, rest := rest[0], rest[1:]

	devName := *device
	if devName == "" {
		detected, err := transport.AutoDetect()
		if err != nil {
			slog.Error("auto-detect serial port", "error", err)
			return 1
		}
		devName = detected
		slog.Info("auto-detected serial port", "device", devName)
	}

	specs := smp.SerialSpecs{
		Device:              devName,
		InitialTimeoutS:     uint32(*initialTimeout),
		SubsequentTimeoutMS: uint32(*subsequentTimeout),
		NbRetry:             uint32(*nbRetry),
		LineLength:          *lineLength,
		MTU:                 *mtu,
		Baudrate:            uint32(*baudrate),
	}

	t, closeFn, err := openTransport(specs)
	if err != nil {
		slog.Error("open transport", "error", err)
		return 1
	}
	defer closeFn()

	client := smp.NewClient(t, specs)
	ctx := context.Background()

	if err := dispatch(ctx, client, cmd, rest, uint32(*slot), *confirm); err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		return 1
	}
	return 0
}

func openTransport(specs smp.SerialSpecs) (transport.Transport, func(), error) {
	initialTimeout := time.Duration(specs.InitialTimeoutS) * time.Second
	t, err := transport.Open(specs.Device, specs.Baudrate, initialTimeout)
	if err != nil {
		return nil, func() {}, err
	}
	if c, ok := t.(transport.Closer); ok {
		return t, func() { c.Close() }, nil
	}
	return t, func() {}, nil
}

func dispatch(ctx context.Context, c *smp.Client, cmd string, args []string, slot uint32, confirmFlag string) error {
	switch cmd {
	case "list":
		state, err := c.List(ctx)
		if err != nil {
			return err
		}
		for _, img := range state.Images {
			fmt.Printf("image=%d slot=%d version=%s active=%v confirmed=%v pending=%v\n",
				img.Image, img.Slot, img.Version, img.Active, img.Confirmed, img.Pending)
		}
		return nil

	case "reset":
		return c.Reset(ctx)

	case "upload":
		if len(args) != 1 {
			return fmt.Errorf("usage: upload <path>")
		}
		return c.Upload(ctx, args[0], slot, func(done, total uint32) {
			fmt.Printf("\r%d/%d bytes", done, total)
			if done >= total {
				fmt.Println()
			}
		})

	case "test":
		if len(args) != 1 {
			return fmt.Errorf("usage: test <hex-hash>")
		}
		hash, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("decode hash: %w", err)
		}
		var confirmPtr *bool
		if confirmFlag != "" {
			v := confirmFlag == "true"
			confirmPtr = &v
		}
		return c.Test(ctx, hash, confirmPtr)

	case "erase":
		var slotPtr *uint32
		if slot != 0 {
			slotPtr = &slot
		}
		return c.Erase(ctx, slotPtr)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
