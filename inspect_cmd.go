package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/streamtts/internal/wav"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE.wav",
	Short: "Validate a WAV file and print its header",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := wav.Inspect(args[0])
		if err != nil {
			return err
		}
		printInfo(cmd.OutOrStdout(), args[0], info)
		if !info.Consistent {
			return fmt.Errorf("%s: header sizes do not match the file size", args[0])
		}
		return nil
	},
}

func printInfo(w io.Writer, path string, info wav.Info) {
	h := info.Header
	fmt.Fprintf(w, "%s\n", keyword(path))
	fmt.Fprintf(w, "  encoding     %s\n", h.Encoding)
	fmt.Fprintf(w, "  sample rate  %s Hz\n", humanize.Comma(int64(h.SampleRate)))
	fmt.Fprintf(w, "  channels     %d\n", h.Channels)
	fmt.Fprintf(w, "  duration     %s\n", info.Duration.Round(10*time.Millisecond))
	fmt.Fprintf(w, "  data         %s (%s bytes)\n", humanize.Bytes(uint64(h.DataSize)), humanize.Comma(int64(h.DataSize)))
	fmt.Fprintf(w, "  file         %s\n", humanize.Bytes(uint64(info.FileSize)))
	status := keyword("consistent")
	if !info.Consistent {
		status = fmt.Sprintf("inconsistent (riff %d, data %d, file %d)", info.RIFFSize, h.DataSize, info.FileSize)
	}
	fmt.Fprintf(w, "  sizes        %s\n", status)
}
