package auth

import "strings"

// Roles.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleReadonly = "readonly"
)

// Roles lists every assignable role.
var Roles = []string{RoleAdmin, RoleUser, RoleReadonly}

// Permissions checked by route guards.
const (
	PermListFiles     = "list_files"
	PermUploadFile    = "upload_file"
	PermDownloadFile  = "download_file"
	PermDeleteOwnFile = "delete_own_file"
	PermDeleteFile    = "delete_file"
	PermMoveFile      = "move_file"
	PermCreateFolder  = "create_folder"
	PermManageUsers   = "manage_users"
	PermViewLogs      = "view_logs"
)

// Admins are not listed: they hold every permission, including ones added later.
var rolePermissions = map[string]map[string]struct{}{
	RoleUser: {
		PermListFiles:     {},
		PermUploadFile:    {},
		PermDownloadFile:  {},
		PermDeleteOwnFile: {},
	},
	RoleReadonly: {
		PermListFiles:    {},
		PermDownloadFile: {},
	},
}

// IsAdmin reports whether id carries the admin role.
func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// HasPermission reports whether role grants perm. Unknown roles grant nothing.
func HasPermission(role, perm string) bool {
	if role == RoleAdmin {
		return true
	}
	_, ok := rolePermissions[role][perm]
	return ok
}

// Permissions returns the permissions granted by role, for display.
func Permissions(role string) []string {
	if role == RoleAdmin {
		return []string{
			PermListFiles, PermUploadFile, PermDownloadFile, PermDeleteOwnFile,
			PermDeleteFile, PermMoveFile, PermCreateFolder, PermManageUsers, PermViewLogs,
		}
	}
	var out []string
	for _, p := range []string{PermListFiles, PermUploadFile, PermDownloadFile, PermDeleteOwnFile} {
		if HasPermission(role, p) {
			out = append(out, p)
		}
	}
	return out
}

// CanOperateOnKey reports whether id may modify the object at key.
// Non-admins are limited to keys under their own top-level folder.
// A leading "/" on key is ignored.
func CanOperateOnKey(id Identity, key string) bool {
	if id.IsAdmin() {
		return true
	}
	if id.Username == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimPrefix(key, "/"), id.Username+"/")
}
