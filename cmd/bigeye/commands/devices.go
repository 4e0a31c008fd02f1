package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Banakin/gst-plugin-bigeye/internal/usbid"
)

func newDevicesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List video capture nodes and their USB ids",
		Long: `List /dev/video* nodes with their card name and USB vendor/product ids.
The node marked with * is the one selected when no --device is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := usbid.List()
			if err != nil {
				return err
			}

			vendor, product := a.cfg.Device.VendorID, a.cfg.Device.ProductID
			if vendor == "" && product == "" {
				vendor, product = usbid.DefaultVendor, usbid.DefaultProduct
			}

			selected := a.cfg.Device.Path
			if selected == "" {
				if node, err := usbid.Find(vendor, product); err == nil {
					selected = node.Path
				}
			}

			out := cmd.OutOrStdout()
			if len(nodes) == 0 {
				fmt.Fprintln(out, "No video devices found")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tDEVICE\tVENDOR\tPRODUCT\tINDEX\tNAME")
			for _, n := range nodes {
				mark := ""
				if n.Path == selected {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					mark, n.Path, orDash(n.Vendor), orDash(n.Product), n.Index, n.Name)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if selected == "" {
				fmt.Fprintf(out, "\nNo node matches %s:%s\n", orDash(vendor), orDash(product))
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
