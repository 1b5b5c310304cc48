package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/auth"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/db"
)

// ResetAdmin sets a new password for an existing admin account and
// reactivates it. It works offline against the database.
func ResetAdmin(ctx context.Context, opt Options) error {
	d, err := db.Open(ctx, opt.DBDriver, opt.DBURL)
	if err != nil {
		return err
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run setup")
	}

	username := strings.TrimSpace(opt.AdminUsername)
	if username == "" {
		username = "admin"
	}
	a, ok, err := d.GetAccountByUsername(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("account %q not found", username)
	}
	if a.Role != auth.RoleAdmin {
		return fmt.Errorf("account %q is not an admin", username)
	}

	pass, err := resolvePassword("Set admin password", opt)
	if err != nil {
		return err
	}
	h, err := auth.HashPassword(pass, auth.DefaultArgon2Params())
	if err != nil {
		return err
	}
	if err := d.SetPasswordHash(ctx, a.ID, h); err != nil {
		return err
	}
	a.Status = db.StatusActive
	a.IsActive = true
	return d.UpdateAccount(ctx, a)
}
