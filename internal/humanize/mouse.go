package humanize

import (
	"context"
	"math"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Point represents a 2D coordinate.
type Point struct {
	X, Y float64
}

// MouseConfig tunes humanized mouse behavior.
type MouseConfig struct {
	MinSteps            int
	MaxSteps            int
	MinStepDelayMs      int
	MaxStepDelayMs      int
	ClickOffsetRadius   float64
	PreClickHoverMinMs  int
	PreClickHoverMaxMs  int
	PostClickDwellMinMs int
	PostClickDwellMaxMs int
}

// DefaultMouseConfig returns sensible defaults for human-like clicking.
func DefaultMouseConfig() MouseConfig {
	return MouseConfig{
		MinSteps:            15,
		MaxSteps:            30,
		MinStepDelayMs:      3,
		MaxStepDelayMs:      12,
		ClickOffsetRadius:   5.0,
		PreClickHoverMinMs:  50,
		PreClickHoverMaxMs:  200,
		PostClickDwellMinMs: 80,
		PostClickDwellMaxMs: 250,
	}
}

// Mouse provides humanized mouse interactions for a browser page.
type Mouse struct {
	page   *rod.Page
	config MouseConfig
}

// NewMouse creates a humanized mouse controller for the given page.
func NewMouse(page *rod.Page) *Mouse {
	return &Mouse{page: page, config: DefaultMouseConfig()}
}

// MoveTo moves the mouse to the target along a Bezier curve with natural
// acceleration and deceleration.
func (m *Mouse) MoveTo(ctx context.Context, x, y float64) error {
	currentPos := m.page.Mouse.Position()
	start := Point{X: currentPos.X, Y: currentPos.Y}
	end := Point{X: x, Y: y}

	numSteps := m.config.MinSteps + rand.Intn(m.config.MaxSteps-m.config.MinSteps+1)
	path := generateBezierPath(start, end, numSteps)

	for _, p := range path {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.page.Mouse.MoveTo(proto.NewPoint(p.X, p.Y)); err != nil {
			return err
		}

		delay := RandomDuration(m.config.MinStepDelayMs, m.config.MaxStepDelayMs)
		if !SleepWithContext(ctx, delay) {
			return ctx.Err()
		}
	}
	return nil
}

// Click moves to the target with a small random offset, hovers briefly,
// clicks, and dwells.
func (m *Mouse) Click(ctx context.Context, x, y float64) error {
	offsetX := (rand.Float64()*2 - 1) * m.config.ClickOffsetRadius
	offsetY := (rand.Float64()*2 - 1) * m.config.ClickOffsetRadius

	if err := m.MoveTo(ctx, x+offsetX, y+offsetY); err != nil {
		return err
	}

	hover := RandomDuration(m.config.PreClickHoverMinMs, m.config.PreClickHoverMaxMs)
	if !SleepWithContext(ctx, hover) {
		return ctx.Err()
	}

	if err := m.page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}

	dwell := RandomDuration(m.config.PostClickDwellMinMs, m.config.PostClickDwellMaxMs)
	if !SleepWithContext(ctx, dwell) {
		return ctx.Err()
	}
	return nil
}

// ClickElement performs a humanized click on the center of an element.
func (m *Mouse) ClickElement(ctx context.Context, element *rod.Element) error {
	shape, err := element.Shape()
	if err != nil {
		return err
	}
	if shape == nil || len(shape.Quads) == 0 {
		return ErrElementNotVisible
	}

	quad := shape.Quads[0]
	centerX := (quad[0] + quad[2] + quad[4] + quad[6]) / 4
	centerY := (quad[1] + quad[3] + quad[5] + quad[7]) / 4

	return m.Click(ctx, centerX, centerY)
}

// generateBezierPath produces points along a quadratic Bezier curve between
// start and end, with a randomized control point perpendicular to the line.
func generateBezierPath(start, end Point, numSteps int) []Point {
	if numSteps < 2 {
		numSteps = 2
	}

	dx := end.X - start.X
	dy := end.Y - start.Y
	dist := math.Hypot(dx, dy)

	// Control point offset scales with distance, capped for short moves.
	maxOffset := dist * 0.25
	if maxOffset > 100 {
		maxOffset = 100
	}
	offset := (rand.Float64()*2 - 1) * maxOffset

	mid := Point{
		X: (start.X+end.X)/2 - dy/math.Max(dist, 1)*offset,
		Y: (start.Y+end.Y)/2 + dx/math.Max(dist, 1)*offset,
	}

	path := make([]Point, 0, numSteps)
	for i := 1; i <= numSteps; i++ {
		t := float64(i) / float64(numSteps)
		inv := 1 - t
		path = append(path, Point{
			X: inv*inv*start.X + 2*inv*t*mid.X + t*t*end.X,
			Y: inv*inv*start.Y + 2*inv*t*mid.Y + t*t*end.Y,
		})
	}
	return path
}
