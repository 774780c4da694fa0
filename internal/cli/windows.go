package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	dispatchv1 "github.com/vladislavdragonenkov/dispatch/proto/dispatch/v1"
)

func newWindowsCmd(rt runtime, g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "List dispatch windows with remaining capacity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, closeFn, err := rt.dialDispatch(g.grpcAddr)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			ctx, cancel := withTimeout(cmd, g)
			defer cancel()

			list, err := client.ListWindows(ctx, &emptypb.Empty{})
			if err != nil {
				return rpcError(err)
			}
			windows, err := dispatchv1.WindowsFromList(list)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(windows)
			}
			return printWindows(cmd, windows)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print windows as JSON")
	return cmd
}

func printWindows(cmd *cobra.Command, windows []dispatchv1.Window) error {
	tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tDATE\tSTART\tEND\tTOTAL\tZONES")
	for _, w := range windows {
		zones := w.Zones()
		parts := make([]string, 0, len(zones))
		for _, zone := range zones {
			parts = append(parts, fmt.Sprintf("%s=%d", zone, w.CapacityByZone[zone]))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", w.ID, w.Date, w.StartTime, w.EndTime, w.CapacityTotal, strings.Join(parts, " "))
	}
	return tw.Flush()
}

func newReserveCmd(rt runtime, g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve WINDOW_ID ZONE_ID",
		Short: "Reserve one slot in a zone of a window",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := rt.dialDispatch(g.grpcAddr)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			ctx, cancel := withTimeout(cmd, g)
			defer cancel()

			req := dispatchv1.ReserveSlotRequest{WindowID: args[0], ZoneID: args[1]}
			reply, err := client.ReserveSlot(ctx, req.ToStruct())
			if err != nil {
				return rpcError(err)
			}
			resp, err := dispatchv1.ReserveSlotResponseFromStruct(reply)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out(cmd), "%s: window=%s zone=%s\n", resp.Status, resp.WindowID, resp.ZoneID)
			return err
		},
	}
}

// rpcError превращает gRPC status в читаемую ошибку.
func rpcError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return fmt.Errorf("%s: %s", st.Code(), st.Message())
}
