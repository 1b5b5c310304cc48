// Package sftpcheck implements the "sftpadmin sftp-check" subcommand.
package sftpcheck

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/cliconfig"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/sftpprobe"
)

// PasswordEnv supplies the SFTP password without putting it on the command line.
const PasswordEnv = "SFTPADMIN_SFTP_PASSWORD"

func NewCommand(flags *cliconfig.Flags) *cobra.Command {
	var (
		opt     sftpprobe.Options
		keyPath string
	)
	cmd := &cobra.Command{
		Use:   "sftp-check",
		Short: "Log in to the SFTP endpoint as a user and list a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opt.Addr == "" {
				cfg, err := flags.Config()
				if err != nil {
					return err
				}
				opt.Addr = cfg.SFTPHost()
				if opt.Addr == "" {
					return errors.New("--addr is required when TRANSFER_SERVER_ID is not configured")
				}
			}
			if keyPath != "" {
				b, err := afero.ReadFile(afero.NewOsFs(), keyPath)
				if err != nil {
					return err
				}
				opt.PrivateKey = b
			}
			if opt.Password == "" {
				opt.Password = strings.TrimSpace(os.Getenv(PasswordEnv))
			}

			res, err := sftpprobe.Probe(cmd.Context(), opt)
			if err != nil {
				if res.HostKeyFingerprint != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "host key: %s\n", res.HostKeyFingerprint)
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server:   %s\nhost key: %s\nwd:       %s\nelapsed:  %s\n\n",
				res.ServerVersion, res.HostKeyFingerprint, res.WorkingDir, res.Elapsed.Round(time.Millisecond))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range res.Entries {
				kind := "-"
				if e.Dir {
					kind = "d"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", kind, e.Size, e.Modified.Format(time.RFC3339), e.Name)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&opt.Addr, "addr", "", "host[:port] of the SFTP endpoint (default: the configured transfer server)")
	f.StringVar(&opt.Username, "user", "", "SFTP user name")
	f.StringVar(&opt.Password, "password", "", "password (prefer "+PasswordEnv+")")
	f.StringVar(&keyPath, "key", "", "private key file for public key authentication")
	f.StringVar(&opt.HostKeyFingerprint, "fingerprint", "", "expected host key fingerprint (SHA256:...)")
	f.StringVar(&opt.Path, "path", "", "directory to list (default: the landing directory)")
	f.DurationVar(&opt.Timeout, "timeout", 15*time.Second, "connection timeout")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
