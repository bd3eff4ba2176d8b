// Package client talks to the looper server's JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/looper/internal/model"
	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// ClientHeader carries the client instance id on every request.
const ClientHeader = "X-Looper-Client"

// pollGrace is added to the long-poll window before the request is abandoned.
const pollGrace = 5 * time.Second

// ErrNotCreated is returned by the create methods when the server does not
// answer 201 with a Location.
var ErrNotCreated = errors.New("resource not created")

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.StatusCode)
}

// Options configures a Client.
type Options struct {
	// APIKey is sent as a bearer token when set.
	APIKey string

	// ClientID identifies this replica. Generated when empty.
	ClientID string

	// Timeout bounds every request except the long poll.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Client is the HTTP client for the looper server.
type Client struct {
	baseURL  *url.URL
	apiKey   string
	clientID string
	timeout  time.Duration
	http     *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", baseURL)
	}

	if opts.ClientID == "" {
		opts.ClientID = ulid.Make().String()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		// No client-level timeout: the long poll sets its own deadline.
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:  u,
		apiKey:   opts.APIKey,
		clientID: opts.ClientID,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
	}, nil
}

// ClientID returns the instance id sent with every request.
func (c *Client) ClientID() string {
	return c.clientID
}

// FetchSynths returns the full tree as sent by GET /api/synths.
func (c *Client) FetchSynths(ctx context.Context) ([]model.SynthPatch, error) {
	var synths []model.SynthPatch
	if err := c.getJSON(ctx, "/api/synths", &synths); err != nil {
		return nil, err
	}
	return synths, nil
}

// FetchSong returns the song state.
func (c *Client) FetchSong(ctx context.Context) (loopsync.SongState, error) {
	var song loopsync.SongState
	err := c.getJSON(ctx, "/api/song", &song)
	return song, err
}

// FetchLocation fetches the resource a create call pointed to and decodes
// it into out.
func (c *Client) FetchLocation(ctx context.Context, location string, out any) error {
	ref, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("parse location %q: %w", location, err)
	}
	if ref.IsAbs() && ref.Host != c.baseURL.Host {
		return fmt.Errorf("location %q is not on %s", location, c.baseURL.Host)
	}
	return c.getJSON(ctx, ref.RequestURI(), out)
}

// CreateSynth posts a new synth and returns its Location.
func (c *Client) CreateSynth(ctx context.Context, name string) (string, error) {
	return c.create(ctx, "/api/synths", map[string]string{"name": name})
}

// CreateChain posts a new chain and returns its Location.
func (c *Client) CreateChain(ctx context.Context, synthID int64, name string) (string, error) {
	return c.create(ctx, chainsPath(synthID), map[string]string{"name": name})
}

// CreateTake posts a new take and returns its Location.
func (c *Client) CreateTake(ctx context.Context, synthID, chainID int64, name string, kind model.TakeKind) (string, error) {
	body := map[string]string{"name": name, "type": string(kind)}
	return c.create(ctx, takesPath(synthID, chainID), body)
}

// PatchChains sends a batch of chain patches for one synth.
func (c *Client) PatchChains(ctx context.Context, synthID int64, patches []model.ChainPatch) error {
	return c.send(ctx, http.MethodPatch, chainsPath(synthID), patches)
}

// PatchTakes sends a batch of take patches for one chain.
func (c *Client) PatchTakes(ctx context.Context, synthID, chainID int64, patches []model.TakePatch) error {
	return c.send(ctx, http.MethodPatch, takesPath(synthID, chainID), patches)
}

// FinishRecording ends the recording of a take.
func (c *Client) FinishRecording(ctx context.Context, synthID, chainID, takeID int64) error {
	path := fmt.Sprintf("%s/%d/finish_recording", takesPath(synthID, chainID), takeID)
	return c.send(ctx, http.MethodPost, path, nil)
}

// PatchSong changes the loop length. The server requires both fields.
func (c *Client) PatchSong(ctx context.Context, patch model.SongPatch) error {
	return c.send(ctx, http.MethodPatch, "/api/song", patch)
}

// RestartTransport rewinds the transport to the start of the loop.
func (c *Client) RestartTransport(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/restart_transport", nil)
}

// Updates long-polls the update log for entries with id >= since. The
// server holds the request for up to window; entries are returned raw so
// the caller can apply its own id guard.
func (c *Client) Updates(ctx context.Context, since int64, window time.Duration) ([]loopsync.RawUpdate, error) {
	seconds := int(window / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if seconds > loopsync.MaxPollSeconds {
		seconds = loopsync.MaxPollSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(seconds)*time.Second+pollGrace)
	defer cancel()

	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("seconds", strconv.Itoa(seconds))

	resp, err := c.do(ctx, http.MethodGet, "/api/updates?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read updates: %w", err)
	}
	entries, err := loopsync.DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return entries, nil
}

func (c *Client) create(ctx context.Context, path string, body any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		if err := checkStatus(resp); err != nil {
			return "", fmt.Errorf("%w: %w", ErrNotCreated, err)
		}
		return "", fmt.Errorf("%w: POST %s returned %d", ErrNotCreated, path, resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: POST %s returned no Location", ErrNotCreated, path)
	}
	return location, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	return checkStatus(resp)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends an authenticated request to the server.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(ClientHeader, c.clientID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	slog.Debug("request completed",
		"component", "client",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// problem is the subset of an RFC 7807 body the client reads.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	serr := &StatusError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var p problem
	if json.Unmarshal(body, &p) == nil {
		serr.Detail = p.Detail
		if serr.Detail == "" {
			serr.Detail = p.Title
		}
	} else {
		serr.Detail = strings.TrimSpace(string(body))
	}
	return serr
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

func chainsPath(synthID int64) string {
	return fmt.Sprintf("/api/synths/%d/chains", synthID)
}

func takesPath(synthID, chainID int64) string {
	return fmt.Sprintf("/api/synths/%d/chains/%d/takes", synthID, chainID)
}
