package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fleet-overlay/internal/visualiser"
)

func newWatchCmd() *cobra.Command {
	var addr, highlight string
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream overlay frames from a running host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer conn.Close()
			return watchFrames(ctx, cmd.OutOrStdout(), visualiser.NewClient(conn), highlight, once)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", visualiser.DefaultConfig().ListenAddr, "Renderer gRPC address")
	cmd.Flags().StringVar(&highlight, "highlight", "", "Robot whose trajectories are highlighted")
	cmd.Flags().BoolVar(&once, "once", false, "Print the latest frame and exit")
	return cmd
}

func watchFrames(ctx context.Context, w io.Writer, client *visualiser.Client, highlight string, once bool) error {
	if once {
		f, err := client.GetFrame(ctx, highlight)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, summarizeFrame(f))
		return nil
	}

	stream, err := client.StreamFrames(ctx, highlight)
	if err != nil {
		return ignoreCancel(err)
	}
	for {
		f, err := stream.Recv()
		if err != nil {
			return ignoreCancel(err)
		}
		fmt.Fprintln(w, summarizeFrame(f))
	}
}

// ignoreCancel treats the end of a stream and a cancelled context as a
// clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return nil
	}
	return err
}

// summarizeFrame renders a one-line description of a streamed frame.
func summarizeFrame(f *structpb.Struct) string {
	fields := f.GetFields()
	highlighted := 0
	items := fields["items"].GetListValue().GetValues()
	for _, it := range items {
		if it.GetStructValue().GetFields()["highlighted"].GetBoolValue() {
			highlighted++
		}
	}
	var generation float64
	if a := fields["alignment"].GetStructValue(); a != nil {
		generation = a.GetFields()["generation"].GetNumberValue()
	}
	return fmt.Sprintf("frame=%s localized=%t level=%s generation=%.0f t=%.0fms items=%d highlighted=%d conflicts=%.0f",
		fields["frame_id"].GetStringValue(),
		fields["localized"].GetBoolValue(),
		fields["level_name"].GetStringValue(),
		generation,
		fields["server_time_ms"].GetNumberValue(),
		len(items),
		highlighted,
		fields["conflict_count"].GetNumberValue(),
	)
}
