// Package setup implements the "sftpadmin setup" subcommand.
package setup

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/cliconfig"
	isetup "github.com/Atari-Inc/Atari-Files-Transfer/internal/setup"
)

func NewCommand(flags *cliconfig.Flags) *cobra.Command {
	var opt isetup.Options
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the first admin account and the JWT signing key",
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
			if cfg.JWT.SecretKey != "" {
				opt.SkipSecret = true
			}
			if err := isetup.Run(cmd.Context(), opt); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "setup complete")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opt.AdminUsername, "admin-username", "admin", "admin account name")
	f.StringVar(&opt.AdminEmail, "admin-email", "", "admin email address")
	f.StringVar(&opt.AdminPassword, "admin-password", "", "set admin password non-interactively")
	f.BoolVar(&opt.AdminPasswordEnv, "admin-password-env", false, "read admin password from "+isetup.PasswordEnv)
	return cmd
}
