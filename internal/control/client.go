package control

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/oshokin/apd-alarms/internal/logger"
)

const (
	// createOverlayPath uploads a bitmap and converts it into an overlay file.
	createOverlayPath = "/axis-cgi/operator/create_overlay.cgi"
	// dynamicOverlayPath adds and removes dynamic overlays.
	dynamicOverlayPath = "/axis-cgi/dynamicoverlay/dynamicoverlay.cgi"
	// clearViewPath controls the lens wiper.
	clearViewPath = "/axis-cgi/clearviewcontrol.cgi"

	// apiVersion is sent with every JSON-RPC request.
	apiVersion = "1.0"

	// DefaultTimeout bounds every control-plane request.
	DefaultTimeout = 5 * time.Second
)

// Position is a normalized screen coordinate pair in the range [-1, 1].
type Position [2]float64

// Client talks to the local control-plane API.
// It is used from the daemon's dispatcher loop only and is not safe for concurrent use.
type Client struct {
	// http is the underlying resty client with base URL and timeout applied.
	http *resty.Client
	// username for basic auth.
	username string
	// password for basic auth.
	password string
	// camera is the video channel overlays are added to.
	camera int
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

// WithCamera selects the video channel for dynamic overlays.
func WithCamera(camera int) Option {
	return func(c *Client) {
		if camera > 0 {
			c.camera = camera
		}
	}
}

// New creates a client for the API rooted at baseURL, e.g. "http://127.0.0.1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetLogger(logger.Logger()).
			// Basic auth over plain HTTP to 127.0.0.1 is expected on the camera.
			SetDisableWarn(true),
		camera: 1,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetCredentials stores the basic-auth credentials used for every call.
func (c *Client) SetCredentials(username, password string) {
	c.username = username
	c.password = password
}

// HasCredentials reports whether both username and password are set.
func (c *Client) HasCredentials() bool {
	return c.username != "" && c.password != ""
}

// CreateOverlay asks the camera to convert an uploaded bitmap into an overlay file.
// assetPath is the absolute path of the bitmap on the camera filesystem.
func (c *Client) CreateOverlay(ctx context.Context, assetPath string) error {
	if !c.HasCredentials() {
		return ErrNoCredentials
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.username, c.password).
		SetFormData(map[string]string{
			"usetransparent": "true",
			"colorcode":      "FFFFFF",
			"usescalable":    "true",
			"type":           "fullcolor",
			"ov_path":        assetPath,
		}).
		Post(createOverlayPath)
	if err != nil {
		return fmt.Errorf("create overlay %s: %w", path.Base(assetPath), err)
	}

	if resp.IsError() {
		return &StatusError{Path: createOverlayPath, StatusCode: resp.StatusCode()}
	}

	return nil
}

// AddImage places an overlay image on the video stream and returns the identity
// the service assigned to it.
func (c *Client) AddImage(ctx context.Context, overlayPath string, position Position, zIndex int) (int, error) {
	params := map[string]any{
		"camera":      c.camera,
		"overlayPath": overlayPath,
		"position":    position,
		"zIndex":      zIndex,
	}

	response, err := c.call(ctx, dynamicOverlayPath, "addImage", params)
	if err != nil {
		return -1, err
	}

	return parseIdentity(response.Data)
}

// RemoveOverlay removes the overlay with the given identity.
func (c *Client) RemoveOverlay(ctx context.Context, identity int) error {
	_, err := c.call(ctx, dynamicOverlayPath, "remove", map[string]any{"identity": identity})

	return err
}

// StartWiper runs the lens wiper with the given id for duration.
func (c *Client) StartWiper(ctx context.Context, id int, duration time.Duration) error {
	params := map[string]any{
		"id":       id,
		"duration": int(duration / time.Second),
	}

	_, err := c.call(ctx, clearViewPath, "start", params)

	return err
}

// rpcRequest is the JSON-RPC style body used by the dynamic overlay and clear view APIs.
type rpcRequest struct {
	APIVersion string `json:"apiVersion"`
	Context    string `json:"context"`
	Method     string `json:"method"`
	Params     any    `json:"params"`
}

// rpcResponse is the common envelope of JSON-RPC style responses.
type rpcResponse struct {
	APIVersion string          `json:"apiVersion"`
	Context    string          `json:"context"`
	Method     string          `json:"method"`
	Data       json.RawMessage `json:"data"`
	Error      *APIError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the envelope.
func (c *Client) call(ctx context.Context, cgiPath, method string, params any) (*rpcResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrNoCredentials
	}

	request := &rpcRequest{
		APIVersion: apiVersion,
		Context:    uuid.NewString(),
		Method:     method,
		Params:     params,
	}

	logger.DebugKV(ctx, "Control API request", "path", cgiPath, "method", method, "context", request.Context)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.username, c.password).
		SetHeader("Content-Type", "application/json").
		SetBody(request).
		Post(cgiPath)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}

	if resp.IsError() {
		return nil, &StatusError{Path: cgiPath, StatusCode: resp.StatusCode()}
	}

	var response rpcResponse
	if err = json.Unmarshal(resp.Body(), &response); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, ErrMalformedResponse, err)
	}

	if response.Error != nil {
		return nil, response.Error
	}

	return &response, nil
}

// parseIdentity extracts data.identity from an addImage response.
func parseIdentity(data json.RawMessage) (int, error) {
	if len(data) == 0 {
		return -1, ErrMissingIdentity
	}

	var payload struct {
		Identity *int `json:"identity"`
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return -1, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	if payload.Identity == nil {
		return -1, ErrMissingIdentity
	}

	if *payload.Identity < 0 {
		return -1, fmt.Errorf("%w: %d", ErrInvalidIdentity, *payload.Identity)
	}

	return *payload.Identity, nil
}
