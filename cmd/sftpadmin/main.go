// Command sftpadmin runs the SFTP admin API server and its operator tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/admin"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/cliconfig"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/resetadmin"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/server"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/setup"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/sftpcheck"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/version"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &cliconfig.Flags{}
	root := &cobra.Command{
		Use:           "sftpadmin",
		Short:         version.AppName,
		Long:          version.Description,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	flags.Register(root)

	root.AddCommand(
		server.NewCommand(flags),
		setup.NewCommand(flags),
		resetadmin.NewCommand(flags),
		admin.NewCommand(),
		sftpcheck.NewCommand(flags),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.AppName, version.Version)
		},
	}
}
