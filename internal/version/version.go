// Package version holds build metadata shared by the CLI and the HTTP API.
package version

// Version is overridden at link time via -ldflags "-X ...version.Version=...".
var Version = "1.0.0"

const (
	AppName     = "SFTP Admin Backend"
	Description = "Administrative API for AWS Transfer Family users and S3 file management"
)
