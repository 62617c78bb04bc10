package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/morezero/cim-broker/pkg/message"
)

// decodeOptions are the flags of the decode command.
type decodeOptions struct {
	hex  bool
	perf bool
}

func runDecode(args []string, out io.Writer) error {
	var opts decodeOptions
	flagSet := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.BoolVar(&opts.hex, "hex", false, "the file holds hexadecimal text instead of raw bytes")
	flagSet.BoolVar(&opts.perf, "perf", false, "the message carries the perf instrumentation counters")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("require exactly one file")
	}

	data, err := os.ReadFile(flagSet.Arg(0))
	if err != nil {
		return err
	}
	return decodeMessage(data, opts, out)
}

func decodeMessage(data []byte, opts decodeOptions, out io.Writer) error {
	if opts.hex {
		clean := strings.Join(strings.Fields(string(data)), "")
		raw, err := hex.DecodeString(clean)
		if err != nil {
			return fmt.Errorf("hex: %w", err)
		}
		data = raw
	}
	codec := message.DefaultCodec
	codec.PerfInstrumentation = opts.perf
	m := codec.Decode(data)
	if m == nil {
		return fmt.Errorf("%d bytes do not hold a message", len(data))
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
