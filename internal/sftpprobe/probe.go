// Package sftpprobe checks that an SFTP login works against the transfer
// endpoint and lists the landing directory.
package sftpprobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type Options struct {
	Addr       string
	Username   string
	Password   string
	PrivateKey []byte
	// HostKeyFingerprint pins the server key (ssh.FingerprintSHA256 form).
	// Empty accepts any key and reports the one seen.
	HostKeyFingerprint string
	// Path is listed after login. Empty means the working directory.
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
}

type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Dir      bool      `json:"dir"`
	Modified time.Time `json:"modified"`
}

type Result struct {
	ServerVersion      string        `json:"serverVersion"`
	HostKeyFingerprint string        `json:"hostKeyFingerprint"`
	WorkingDir         string        `json:"workingDir"`
	Path               string        `json:"path"`
	Entries            []Entry       `json:"entries"`
	Elapsed            time.Duration `json:"elapsed"`
}

// ErrHostKeyMismatch is returned when the pinned fingerprint does not match.
var ErrHostKeyMismatch = errors.New("host key fingerprint mismatch")

func (o Options) clientConfig(seen *string) (*ssh.ClientConfig, error) {
	if strings.TrimSpace(o.Username) == "" {
		return nil, errors.New("username is required")
	}
	var methods []ssh.AuthMethod
	if len(o.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(o.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if o.Password != "" {
		methods = append(methods, ssh.Password(o.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("a password or private key is required")
	}
	want := strings.TrimSpace(o.HostKeyFingerprint)
	return &ssh.ClientConfig{
		User: o.Username,
		Auth: methods,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			*seen = ssh.FingerprintSHA256(key)
			if want != "" && want != *seen {
				return fmt.Errorf("%w: got %s", ErrHostKeyMismatch, *seen)
			}
			return nil
		},
		Timeout: o.Timeout,
	}, nil
}

// Probe dials opt.Addr, logs in and lists opt.Path.
func Probe(ctx context.Context, opt Options) (Result, error) {
	if opt.Addr == "" {
		return Result{}, errors.New("addr is required")
	}
	if _, _, err := net.SplitHostPort(opt.Addr); err != nil {
		opt.Addr = net.JoinHostPort(opt.Addr, "22")
	}
	if opt.Timeout == 0 {
		opt.Timeout = 15 * time.Second
	}
	d := net.Dialer{Timeout: opt.Timeout}
	conn, err := d.DialContext(ctx, "tcp", opt.Addr)
	if err != nil {
		return Result{}, err
	}
	return ProbeConn(ctx, conn, opt)
}

// ProbeConn runs the probe over an established connection and closes it.
func ProbeConn(ctx context.Context, conn net.Conn, opt Options) (Result, error) {
	defer conn.Close()
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	var res Result
	conf, err := opt.clientConfig(&res.HostKeyFingerprint)
	if err != nil {
		return Result{}, err
	}
	if opt.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opt.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, opt.Addr, conf)
	if err != nil {
		return res, fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()
	res.ServerVersion = string(sshConn.ServerVersion())

	sc, err := sftp.NewClient(client)
	if err != nil {
		return res, fmt.Errorf("start sftp: %w", err)
	}
	defer sc.Close()

	if res.WorkingDir, err = sc.Getwd(); err != nil {
		return res, fmt.Errorf("getwd: %w", err)
	}
	res.Path = opt.Path
	if res.Path == "" {
		res.Path = res.WorkingDir
	}
	infos, err := sc.ReadDir(res.Path)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", res.Path, err)
	}
	res.Entries = make([]Entry, 0, len(infos))
	for _, fi := range infos {
		res.Entries = append(res.Entries, Entry{Name: fi.Name(), Size: fi.Size(), Dir: fi.IsDir(), Modified: fi.ModTime()})
	}
	sort.Slice(res.Entries, func(i, j int) bool { return res.Entries[i].Name < res.Entries[j].Name })
	res.Elapsed = time.Since(start)
	log.Info("sftp probe succeeded", "addr", opt.Addr, "user", opt.Username, "entries", len(res.Entries), "elapsed", res.Elapsed)
	return res, nil
}
