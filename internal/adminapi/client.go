// Package adminapi is an HTTP client for the admin API.
package adminapi

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/accounts"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/dashboard"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int    `json:"-"`
	Title   string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Title + ": " + e.Message
	}
	if e.Title != "" {
		return e.Title
	}
	return http.StatusText(e.Status)
}

type Client struct {
	baseURL *url.URL
	hc      *http.Client

	mu      sync.Mutex
	access  string
	refresh string
}

type ClientOptions struct {
	Addr     string
	Insecure bool
	Timeout  time.Duration
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Addr == "" {
		return nil, errors.New("addr is required")
	}
	u, err := url.Parse(opt.Addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Host == "" {
		return nil, errors.New("invalid addr")
	}

	t := &http.Transport{}
	if strings.EqualFold(u.Scheme, "https") {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: opt.Insecure} //nolint:gosec
	}
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{baseURL: u, hc: &http.Client{Transport: t, Timeout: timeout}}, nil
}

// Me is the authenticated principal.
type Me struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

// Login exchanges credentials for a token pair kept by the client.
func (c *Client) Login(username, password string) (Me, error) {
	req := map[string]string{"username": username, "password": password}
	var resp struct {
		User         Me     `json:"user"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.do(http.MethodPost, "/api/auth/login", "", req, &resp); err != nil {
		return Me{}, err
	}
	c.mu.Lock()
	c.access, c.refresh = resp.AccessToken, resp.RefreshToken
	c.mu.Unlock()
	return resp.User, nil
}

// Logout discards the tokens after notifying the server.
func (c *Client) Logout() error {
	err := c.doAuth(http.MethodPost, "/api/auth/logout", nil, nil)
	c.mu.Lock()
	c.access, c.refresh = "", ""
	c.mu.Unlock()
	return err
}

func (c *Client) Me() (Me, error) {
	var resp struct {
		User Me `json:"user"`
	}
	err := c.doAuth(http.MethodGet, "/api/auth/me", nil, &resp)
	return resp.User, err
}

func (c *Client) ChangeOwnPassword(current, next string) error {
	return c.doAuth(http.MethodPost, "/api/auth/change-password", accounts.PasswordChange{Current: current, New: next}, nil)
}

func (c *Client) ListUsers() ([]accounts.View, error) {
	var resp struct {
		Users []accounts.View `json:"users"`
	}
	if err := c.doAuth(http.MethodGet, "/api/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) CreateUser(req accounts.CreateRequest) (accounts.View, error) {
	var resp struct {
		User accounts.View `json:"user"`
	}
	err := c.doAuth(http.MethodPost, "/api/create-user", req, &resp)
	return resp.User, err
}

func (c *Client) UpdateUser(username string, req accounts.UpdateRequest) error {
	return c.doAuth(http.MethodPut, "/api/users/"+url.PathEscape(username), req, nil)
}

func (c *Client) DeleteUser(username string) error {
	return c.doAuth(http.MethodDelete, "/api/delete-user/"+url.PathEscape(username), nil, nil)
}

func (c *Client) SetUserPassword(username, password string) error {
	req := accounts.PasswordChange{New: password, Confirm: password}
	return c.doAuth(http.MethodPatch, "/api/users/"+url.PathEscape(username)+"/password", req, nil)
}

func (c *Client) ImportSSHKey(username, publicKey string) (string, error) {
	var resp struct {
		ID string `json:"sshPublicKeyId"`
	}
	err := c.doAuth(http.MethodPost, "/api/users/"+url.PathEscape(username)+"/ssh-keys",
		map[string]string{"sshPublicKey": publicKey}, &resp)
	return resp.ID, err
}

func (c *Client) ListFolders() ([]objectstore.Folder, error) {
	var resp struct {
		Folders []objectstore.Folder `json:"folders"`
	}
	if err := c.doAuth(http.MethodGet, "/api/folders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Folders, nil
}

func (c *Client) ListFiles(prefix string, maxKeys int) ([]objectstore.Object, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if maxKeys > 0 {
		q.Set("maxKeys", strconv.Itoa(maxKeys))
	}
	path := "/api/files"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Objects []objectstore.Object `json:"objects"`
	}
	if err := c.doAuth(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Objects, nil
}

func (c *Client) DownloadURL(key string, expires time.Duration) (string, error) {
	path := "/api/download/" + key
	if expires > 0 {
		path += "?expires=" + strconv.Itoa(int(expires/time.Second))
	}
	var resp struct {
		URL string `json:"downloadUrl"`
	}
	err := c.doAuth(http.MethodGet, path, nil, &resp)
	return resp.URL, err
}

func (c *Client) DeleteObject(key string) error {
	return c.doAuth(http.MethodDelete, "/api/delete/"+key, nil, nil)
}

func (c *Client) Stats() (dashboard.Stats, error) {
	var resp struct {
		Stats dashboard.Stats `json:"stats"`
	}
	err := c.doAuth(http.MethodGet, "/api/dashboard/stats", nil, &resp)
	return resp.Stats, err
}

func (c *Client) RecentActivity(limit int) ([]dashboard.Activity, error) {
	var resp struct {
		Activities []dashboard.Activity `json:"activities"`
	}
	err := c.doAuth(http.MethodGet, "/api/dashboard/recent-activity?limit="+strconv.Itoa(limit), nil, &resp)
	return resp.Activities, err
}

// doAuth sends an authenticated request. An expired access token is
// refreshed once and the request retried.
func (c *Client) doAuth(method, path string, body, out any) error {
	c.mu.Lock()
	access := c.access
	c.mu.Unlock()
	if access == "" {
		return errors.New("not logged in")
	}
	err := c.do(method, path, access, body, out)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Title != "Token Expired" {
		return err
	}
	if err := c.refreshAccess(); err != nil {
		return err
	}
	c.mu.Lock()
	access = c.access
	c.mu.Unlock()
	return c.do(method, path, access, body, out)
}

func (c *Client) refreshAccess() error {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()
	if refresh == "" {
		return errors.New("session expired; login again")
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(http.MethodPost, "/api/auth/refresh", refresh, nil, &resp); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	c.mu.Lock()
	c.access = resp.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) do(method, path, token string, body, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, c.baseURL.ResolveReference(ref).String(), buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.Header.Set("accept", "application/json")
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := &Error{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(e)
		return e
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
