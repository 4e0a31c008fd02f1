package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Banakin/gst-plugin-bigeye/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect BigEye configuration",
		Long:  `View the effective configuration after defaults, file, BIGEYE_* environment and flags.`,
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Example: `  # Show configuration as YAML (default)
  bigeye config show

  # Show configuration as JSON
  bigeye config show --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				data, err := config.Render(a.cfg)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(a.cfg)
			default:
				return fmt.Errorf("unsupported format: %s (must be yaml or json)", format)
			}
		},
	}
	show.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml or json)")

	path := &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintln(cmd.OutOrStdout(), used)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "(none - defaults, environment and flags only)")
			}
			return nil
		},
	}

	cmd.AddCommand(show, path)
	return cmd
}
