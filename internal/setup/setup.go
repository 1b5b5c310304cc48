// Package setup bootstraps the credential store: the first admin account and
// the persisted JWT signing key.
package setup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/validate"
)

// PasswordEnv is read when a password is requested from the environment.
const PasswordEnv = "SFTPADMIN_ADMIN_PASSWORD"

const secretBytes = 48

type Options struct {
	DBDriver string
	DBURL    string

	AdminUsername    string
	AdminEmail       string
	AdminPassword    string
	AdminPasswordEnv bool

	// SkipSecret leaves key generation to configuration (JWT_SECRET_KEY).
	SkipSecret bool

	// In and Out default to stdin and stderr for the password prompt.
	In  io.Reader
	Out io.Writer
}

// Run creates the admin account and signing key once. A second run fails.
func Run(ctx context.Context, opt Options) error {
	d, err := db.Open(ctx, opt.DBDriver, opt.DBURL)
	if err != nil {
		return err
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return errors.New("already initialized")
	}

	username := strings.TrimSpace(opt.AdminUsername)
	if username == "" {
		username = "admin"
	}
	var errs validate.Errors
	validate.Username(&errs, username)
	validate.Email(&errs, opt.AdminEmail)
	if err := errs.Err(); err != nil {
		return err
	}

	pass, err := resolvePassword("Set initial admin password", opt)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(pass, auth.DefaultArgon2Params())
	if err != nil {
		return err
	}
	if _, err := d.CreateAccount(ctx, &db.Account{
		Username:     username,
		PasswordHash: hash,
		Email:        opt.AdminEmail,
		Role:         auth.RoleAdmin,
		Status:       db.StatusActive,
		IsActive:     true,
		Metadata:     db.JSONMap{"createdBy": "setup"},
	}); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	if !opt.SkipSecret {
		secret, err := auth.RandomSecret(secretBytes)
		if err != nil {
			return err
		}
		if err := d.SetJWTSecret(ctx, secret); err != nil {
			return err
		}
	}
	return d.SetInitialized(ctx)
}

// resolvePassword takes the password from the flag, the environment or a
// prompt, in that order of precedence. Flag and environment are exclusive.
func resolvePassword(label string, opt Options) (string, error) {
	if opt.AdminPassword != "" && opt.AdminPasswordEnv {
		return "", errors.New("choose one of --admin-password or --admin-password-env")
	}
	var p string
	switch {
	case opt.AdminPasswordEnv:
		p = strings.TrimSpace(os.Getenv(PasswordEnv))
		if p == "" {
			return "", errors.New(PasswordEnv + " is empty")
		}
	case opt.AdminPassword != "":
		p = strings.TrimSpace(opt.AdminPassword)
	default:
		var err error
		p, err = promptPassword(label, opt.In, opt.Out)
		if err != nil {
			return "", err
		}
	}
	var errs validate.Errors
	validate.Password(&errs, "Password", p)
	if err := errs.Err(); err != nil {
		return "", err
	}
	return p, nil
}

func promptPassword(label string, in io.Reader, out io.Writer) (string, error) {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		for {
			fmt.Fprintf(out, "%s: ", label)
			p1b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			if err != nil {
				return "", err
			}
			fmt.Fprint(out, "Confirm password: ")
			p2b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			if err != nil {
				return "", err
			}
			if p, ok := confirm(out, string(p1b), string(p2b)); ok {
				return p, nil
			}
		}
	}

	// Piped input: echo suppression is not possible.
	r := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s: ", label)
		p1, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		fmt.Fprint(out, "Confirm password: ")
		p2, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if p, ok := confirm(out, p1, p2); ok {
			return p, nil
		}
	}
}

func confirm(out io.Writer, a, b string) (string, bool) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" {
		fmt.Fprintln(out, "password cannot be empty")
		return "", false
	}
	if a != b {
		fmt.Fprintln(out, "passwords do not match")
		return "", false
	}
	return a, true
}
