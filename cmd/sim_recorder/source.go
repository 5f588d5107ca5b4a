package main

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/simrecorder/recorder/internal/capture"
	"github.com/simrecorder/recorder/internal/sample"
)

// syntheticSource stands in for the tracking hardware and vehicle physics.
// It writes deterministic sensor values for simulation time t.
type syntheticSource struct {
	tickRate float64
	config   map[string]string
}

func newSyntheticSource(tickRate float64) *syntheticSource {
	return &syntheticSource{
		tickRate: tickRate,
		config: map[string]string{
			"source":   "synthetic",
			"tickRate": strconv.FormatFloat(tickRate, 'f', -1, 64),
		},
	}
}

// Fill writes one tick of sensor input into cur.
func (s *syntheticSource) Fill(cur *sample.Sample, t float64) {
	headPos := sample.Vec3{X: 0.3 * math.Cos(t), Y: 1.7 + 0.05*math.Sin(2*t), Z: 0.3 * math.Sin(t)}
	head := cur.SpatialPose("head")
	head.Position = headPos
	head.Rotation = sample.Vec3{X: 10 * math.Sin(t), Y: math.Mod(30*t, 360), Z: 2 * math.Sin(3*t)}

	left := cur.SpatialPose("controller_left")
	left.Position = headPos.Add(sample.Vec3{X: -0.25, Y: -0.4, Z: 0.3})
	left.Rotation = sample.Vec3{X: 20 * math.Sin(0.5*t)}

	right := cur.SpatialPose("controller_right")
	right.Position = headPos.Add(sample.Vec3{X: 0.25, Y: -0.4, Z: 0.3})
	right.Rotation = sample.Vec3{X: 20 * math.Cos(0.5*t)}

	vehicle := cur.SpatialPose("vehicle")
	vehicle.Position = sample.Vec3{Z: 12 * t}
	vehicle.Rotation = sample.Vec3{Y: 5 * math.Sin(0.2*t)}

	gaze := cur.ViewportPose("gaze")
	gaze.Position = sample.Vec2{X: 0.5 + 0.2*math.Cos(1.3*t), Y: 0.5 + 0.2*math.Sin(1.7*t)}

	if cur.Buttons == nil {
		cur.Buttons = make(map[string]bool)
	}
	cur.Buttons["trigger"] = math.Sin(t) > 0.9

	if cur.Axes == nil {
		cur.Axes = make(map[string]float64)
	}
	cur.Axes["throttle"] = 0.5 + 0.5*math.Sin(0.1*t)

	if cur.BlendShapes == nil {
		cur.BlendShapes = make(map[string]float64)
	}
	cur.BlendShapes["eyeBlinkLeft"] = blink(t)
	cur.BlendShapes["eyeBlinkRight"] = blink(t + 0.05)

	if cur.Config == nil {
		cur.Config = s.config
	}
	cur.Scene = "highway"
	cur.Sickness = math.Mod(t/60, 1)
}

// blink is 1 for a tenth of every four seconds.
func blink(t float64) float64 {
	if math.Mod(t, 4) < 0.1 {
		return 1
	}
	return 0
}

// syntheticRenderer answers readbacks with a moving gradient.
type syntheticRenderer struct {
	width, height int
	frames        atomic.Int64
}

func newSyntheticRenderer(width, height int) *syntheticRenderer {
	return &syntheticRenderer{width: width, height: height}
}

// RequestReadback delivers the frame on its own goroutine, like a GPU fence
// completing after the request returns.
func (r *syntheticRenderer) RequestReadback(cb func(capture.Frame, error)) {
	n := int(r.frames.Add(1))
	go cb(r.render(n), nil)
}

func (r *syntheticRenderer) render(n int) capture.Frame {
	pixels := make([]byte, r.width*r.height*4)
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			i := (y*r.width + x) * 4
			pixels[i] = byte((x + n*4) % 256)
			pixels[i+1] = byte(y * 255 / max(r.height-1, 1))
			pixels[i+2] = byte(n % 256)
			pixels[i+3] = 255
		}
	}
	return capture.Frame{Pixels: pixels, Width: r.width, Height: r.height}
}
