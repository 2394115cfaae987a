package commands

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/go-the-way/novnc4svc/internal/capture"
)

func NewCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect frame capture files",
	}
	cmd.AddCommand(newCaptureDumpCmd())
	return cmd
}

func newCaptureDumpCmd() *cobra.Command {
	var (
		filter   capture.Filter
		maxBytes int
	)

	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the events of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := capture.NewFilteredReader(args[0], filter)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			count := 0
			for {
				ev, err := r.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("failed to read event %d: %w", count+1, err)
				}
				fmt.Fprintln(out, formatEvent(ev, maxBytes))
				count++
			}
			fmt.Fprintf(out, "%d event(s)\n", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.SessionID, "session", "", "Only events of this session")
	cmd.Flags().StringVar(&filter.Kind, "kind", "", "Only events of this kind (frame, open, close, error)")
	cmd.Flags().StringVar(&filter.Direction, "direction", "", "Only frames in this direction (in, out)")
	cmd.Flags().IntVar(&maxBytes, "bytes", 32, "Payload bytes to print per frame")

	return cmd
}

func formatEvent(ev capture.Event, maxBytes int) string {
	ts := ev.Timestamp.Format("15:04:05.000000")
	id := ev.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	if ev.Kind != capture.KindFrame {
		return fmt.Sprintf("%s %s %-5s %s", ts, id, ev.Kind, ev.Detail)
	}

	data := ev.Data
	more := ""
	if maxBytes >= 0 && len(data) > maxBytes {
		data = data[:maxBytes]
		more = "..."
	}
	if ev.Truncated {
		more = "... (truncated)"
	}
	return fmt.Sprintf("%s %s %-5s %6d %s%s", ts, id, ev.Direction, ev.Size, hex.EncodeToString(data), more)
}
