// Package validate contains input validation helpers.
// Checks append to an Errors list so callers can report every problem at once.
package validate

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/ssh"
)

var (
	usernameRe   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	folderNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

// Errors is an ordered list of validation messages.
// Its Error form joins the messages with "; ".
type Errors []string

func (e Errors) Error() string { return strings.Join(e, "; ") }

// Check appends msg when cond is false.
func (e *Errors) Check(cond bool, msg string) {
	if !cond {
		*e = append(*e, msg)
	}
}

// Err returns nil when no message was collected.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Username reports problems with an account name.
func Username(errs *Errors, s string) {
	errs.Check(len(strings.TrimSpace(s)) >= 3, "Username must be at least 3 characters long")
	errs.Check(usernameRe.MatchString(s), "Username can only contain letters, numbers, underscores, and hyphens")
}

// Password reports a password that is too short. label prefixes the message.
func Password(errs *Errors, label, s string) {
	errs.Check(len(s) >= MinPasswordLen, label+" must be at least 6 characters long")
}

// Email reports a malformed address. Empty values are accepted.
func Email(errs *Errors, s string) {
	if s == "" {
		return
	}
	errs.Check(emailRe.MatchString(s), "Invalid email format")
}

// OneOf reports a value outside the allowed set.
func OneOf(errs *Errors, field, s string, allowed []string) {
	for _, a := range allowed {
		if s == a {
			return
		}
	}
	*errs = append(*errs, "Invalid "+field+". Must be one of: "+strings.Join(allowed, ", "))
}

// HomeDirectory reports a non-absolute home directory. Empty values are accepted.
func HomeDirectory(errs *Errors, s string) {
	if s == "" {
		return
	}
	errs.Check(strings.HasPrefix(s, "/"), "Home directory must start with '/'")
}

// SSHPublicKey reports a key that is not in authorized_keys format.
// Empty values are accepted.
func SSHPublicKey(errs *Errors, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	_, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s))
	errs.Check(err == nil, "Invalid SSH public key")
}

// FileName reports names that are empty or could escape their folder.
func FileName(errs *Errors, s string) {
	errs.Check(strings.TrimSpace(s) != "", "File name is required")
	errs.Check(!strings.Contains(s, "..") && !strings.Contains(s, "/"), "Invalid file name")
}

// FolderName reports names outside letters, digits, '-' and '_'.
func FolderName(errs *Errors, s string) {
	if strings.TrimSpace(s) == "" {
		*errs = append(*errs, "Folder name is required")
		return
	}
	errs.Check(folderNameRe.MatchString(s), "Folder name can only contain letters, numbers, hyphens, and underscores")
	errs.Check(!strings.Contains(s, "..") && !strings.Contains(s, "/"), "Invalid folder name")
}

// ObjectKey reports keys that are empty or contain parent references.
func ObjectKey(errs *Errors, field, s string) {
	if strings.TrimSpace(s) == "" {
		*errs = append(*errs, field+" is required")
		return
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			*errs = append(*errs, field+" must not contain '..' segments")
			return
		}
	}
}
