// Package resetadmin implements the "sftpadmin reset-admin" subcommand.
// It resets an admin password directly in the database.
package resetadmin

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/cliconfig"
	isetup "github.com/Atari-Inc/Atari-Files-Transfer/internal/setup"
)

func NewCommand(flags *cliconfig.Flags) *cobra.Command {
	var opt isetup.Options
	cmd := &cobra.Command{
		Use:   "reset-admin",
		Short: "Reset an admin password (works while the server is stopped)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.Config()
			if err != nil {
				return err
			}
			opt.DBDriver = cfg.Database.Driver
			opt.DBURL = cfg.Database.URL
			opt.In = cmd.InOrStdin()
			opt.Out = cmd.ErrOrStderr()
			if err := isetup.ResetAdmin(cmd.Context(), opt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password reset for %s\n", opt.AdminUsername)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opt.AdminUsername, "username", "admin", "admin account name")
	f.StringVar(&opt.AdminPassword, "admin-password", "", "set admin password non-interactively")
	f.BoolVar(&opt.AdminPasswordEnv, "admin-password-env", false, "read admin password from "+isetup.PasswordEnv)
	return cmd
}
