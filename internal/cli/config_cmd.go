package cli

import (
	"fmt"

	"github.com/devrev/querysync/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the command that prints the effective configuration.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := config.Role(role)
			if r != config.RolePrimary && r != config.RoleSecondary {
				return fmt.Errorf("invalid role %q: must be primary or secondary", role)
			}

			cfg, err := config.Load(rootOpts.ConfigPath, r)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Redacted())
		},
	}

	cmd.Flags().StringVar(&role, "role", string(config.RolePrimary), "role whose configuration to print (primary|secondary)")
	return cmd
}
