package overlay

import (
	"context"
	"fmt"
	"path"

	"github.com/oshokin/apd-alarms/internal/control"
	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/metrics"
)

// absent marks a color with no overlay on screen.
const absent = -1

// API is the subset of the control-plane client the controller depends on.
type API interface {
	CreateOverlay(ctx context.Context, assetPath string) error
	AddImage(ctx context.Context, overlayPath string, position control.Position, zIndex int) (int, error)
	RemoveOverlay(ctx context.Context, identity int) error
}

// Options describes where overlay files live and how they are placed.
type Options struct {
	// OverlayDir holds the converted .ovl files on the camera.
	OverlayDir string
	// AssetDir holds the packaged .bmp images uploaded by UploadAssets.
	AssetDir string
	// Position is the top-left corner of the overlay in normalized coordinates.
	Position control.Position
	// ZIndex orders the overlay relative to others.
	ZIndex int
}

// Controller shows and hides the alarm overlays.
// It is not safe for concurrent use.
type Controller struct {
	// api performs the control-plane calls.
	api API
	// opts holds file locations and placement.
	opts Options
	// metrics counts calls by operation and result.
	metrics *metrics.Metrics
	// red is the identity of the red overlay or absent.
	red int
	// green is the identity of the green overlay or absent.
	green int
}

// NewController returns a controller with no overlay recorded.
func NewController(api API, opts Options, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.New(nil)
	}

	return &Controller{
		api:     api,
		opts:    opts,
		metrics: m,
		red:     absent,
		green:   absent,
	}
}

// Handle returns the identity recorded for the color.
func (c *Controller) Handle(color domain.Color) (int, bool) {
	id := c.identity(color)

	return id, id != absent
}

// Active returns the color currently on screen, if any.
func (c *Controller) Active() (domain.Color, bool) {
	switch {
	case c.red != absent:
		return domain.Red, true
	case c.green != absent:
		return domain.Green, true
	default:
		return 0, false
	}
}

// Activate shows the overlay of the given color. It is a no-op when that color
// is already shown and removes the other color first otherwise. On failure no
// handle is recorded for the color.
func (c *Controller) Activate(ctx context.Context, color domain.Color) (int, error) {
	if id, ok := c.Handle(color); ok {
		return id, nil
	}

	if _, ok := c.Handle(color.Opposite()); ok {
		if err := c.Deactivate(ctx, color.Opposite()); err != nil {
			logger.WarnKV(ctx, "Removing opposite overlay failed", "color", color.Opposite(), "error", err)
		}
	}

	overlayPath := path.Join(c.opts.OverlayDir, fileName(color, ".ovl"))

	id, err := c.api.AddImage(ctx, overlayPath, c.opts.Position, c.opts.ZIndex)
	c.metrics.OverlayCalls.WithLabelValues("add", metrics.Result(err)).Inc()

	if err != nil {
		c.setIdentity(color, absent)

		return absent, fmt.Errorf("add %s overlay: %w", color, err)
	}

	if id < 0 {
		c.setIdentity(color, absent)

		return absent, fmt.Errorf("add %s overlay: %w", color, control.ErrInvalidIdentity)
	}

	c.setIdentity(color, id)
	logger.InfoKV(ctx, "Overlay shown", "color", color, "identity", id)

	return id, nil
}

// Deactivate removes the overlay of the given color if one is recorded.
// The handle is cleared even when the removal call fails.
func (c *Controller) Deactivate(ctx context.Context, color domain.Color) error {
	id, ok := c.Handle(color)
	if !ok {
		return nil
	}

	c.setIdentity(color, absent)

	err := c.api.RemoveOverlay(ctx, id)
	c.metrics.OverlayCalls.WithLabelValues("remove", metrics.Result(err)).Inc()

	if err != nil {
		return fmt.Errorf("remove %s overlay %d: %w", color, id, err)
	}

	logger.InfoKV(ctx, "Overlay removed", "color", color, "identity", id)

	return nil
}

// RemoveAllKnown asks the control plane to remove identities 1..maxID, clearing
// overlays left behind by a previous run. Individual failures are ignored.
func (c *Controller) RemoveAllKnown(ctx context.Context, maxID int) {
	failed := 0

	for id := 1; id <= maxID; id++ {
		err := c.api.RemoveOverlay(ctx, id)
		c.metrics.OverlayCalls.WithLabelValues("sweep", metrics.Result(err)).Inc()

		if err != nil {
			failed++
		}
	}

	c.red, c.green = absent, absent

	logger.DebugKV(ctx, "Overlay sweep finished", "max_identity", maxID, "not_removed", failed)
}

// UploadAssets uploads the green and red images so the camera can build overlay
// files from them. The camera does not deduplicate, so call it once per install.
func (c *Controller) UploadAssets(ctx context.Context) {
	for _, color := range [...]domain.Color{domain.Green, domain.Red} {
		assetPath := path.Join(c.opts.AssetDir, fileName(color, ".bmp"))

		err := c.api.CreateOverlay(ctx, assetPath)
		c.metrics.OverlayCalls.WithLabelValues("upload", metrics.Result(err)).Inc()

		if err != nil {
			logger.WarnKV(ctx, "Overlay asset upload failed", "asset", assetPath, "error", err)
		}
	}
}

// identity returns the recorded identity for the color.
func (c *Controller) identity(color domain.Color) int {
	if color == domain.Red {
		return c.red
	}

	return c.green
}

// setIdentity records the identity for the color.
func (c *Controller) setIdentity(color domain.Color, id int) {
	if color == domain.Red {
		c.red = id
		return
	}

	c.green = id
}

// fileName builds "<color>_quarter<ext>", matching the packaged assets.
func fileName(color domain.Color, ext string) string {
	return color.String() + "_quarter" + ext
}
