// Package admin implements the "sftpadmin admin" subcommand: a terminal UI
// driving a running server through its API.
package admin

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/adminapi"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/adminui"
)

func NewCommand() *cobra.Command {
	var addr string
	var insecure bool
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Open the admin console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := adminapi.NewClient(adminapi.ClientOptions{
				Addr:     addr,
				Insecure: insecure || adminui.RequireInsecureByDefault(addr),
			})
			if err != nil {
				return err
			}
			p := tea.NewProgram(adminui.New(c, addr), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:5050", "server address")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip TLS verification (loopback addresses skip it by default)")
	return cmd
}
