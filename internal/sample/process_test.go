package sample

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-9

// run feeds positions through the processor one tick at a time, seeding each
// tick from the previous one the way the recorder does.
func run(p *Processor, positions []Vec3, dt float64) []Sample {
	var previous Sample
	out := make([]Sample, 0, len(positions))
	for _, pos := range positions {
		current := previous.Clone()
		current.SpatialPose("head").Position = pos
		p.Process(&current, &previous, TickMeta{IdealInterval: dt, ActualInterval: dt})
		out = append(out, current)
		previous = current
	}
	return out
}

func TestContinuousAlpha(t *testing.T) {
	tests := []struct {
		name         string
		alpha        float64
		ideal        float64
		actual       float64
		wantAlpha    float64
		wantOneMinus float64
	}{
		{name: "ideal interval keeps alpha", alpha: 0.3, ideal: 0.02, actual: 0.02, wantAlpha: 0.3, wantOneMinus: 0.7},
		{name: "double interval squares decay", alpha: 0.5, ideal: 0.02, actual: 0.04, wantAlpha: 0.75, wantOneMinus: 0.25},
		{name: "half interval takes root", alpha: 0.75, ideal: 0.02, actual: 0.01, wantAlpha: 0.5, wantOneMinus: 0.5},
		{name: "zero actual holds", alpha: 0.5, ideal: 0.02, actual: 0, wantAlpha: 0, wantOneMinus: 1},
		{name: "negative actual holds", alpha: 0.5, ideal: 0.02, actual: -1, wantAlpha: 0, wantOneMinus: 1},
		{name: "infinite actual holds", alpha: 0.5, ideal: 0.02, actual: math.Inf(1), wantAlpha: 0, wantOneMinus: 1},
		{name: "invalid ideal falls back to per tick alpha", alpha: 0.4, ideal: 0, actual: 0.02, wantAlpha: 0.4, wantOneMinus: 0.6},
		{name: "alpha clamped above one", alpha: 2, ideal: 0.02, actual: 0.05, wantAlpha: 1, wantOneMinus: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, om := ContinuousAlpha(tt.alpha, tt.ideal, tt.actual)
			assert.InDelta(t, tt.wantAlpha, a, tolerance)
			assert.InDelta(t, tt.wantOneMinus, om, tolerance)
		})
	}
}

func TestProcess_ConstantVelocity(t *testing.T) {
	p := NewProcessor(DefaultAlpha())
	v := Vec3{X: 2, Y: 0, Z: -1}
	dt := 0.5

	positions := make([]Vec3, 8)
	for i := range positions {
		positions[i] = Vec3{X: 3, Y: 1, Z: 4}.Add(v.Scale(float64(i) * dt))
	}

	samples := run(p, positions, dt)

	first := samples[0].Spatial[0]
	assert.Equal(t, Vec3{}, first.VelocityRaw, "first tick has no predecessor")
	assert.Equal(t, Vec3{}, first.AccelerationRaw)

	for i := 1; i < len(samples); i++ {
		pose := samples[i].Spatial[0]
		assert.InDelta(t, v.X, pose.VelocityRaw.X, tolerance, "tick %d", i+1)
		assert.InDelta(t, v.Y, pose.VelocityRaw.Y, tolerance, "tick %d", i+1)
		assert.InDelta(t, v.Z, pose.VelocityRaw.Z, tolerance, "tick %d", i+1)
		if i >= 2 {
			assert.InDelta(t, 0, pose.AccelerationRaw.Magnitude(), tolerance, "tick %d", i+1)
		}
	}
}

func TestProcess_EndToEndScenario(t *testing.T) {
	p := NewProcessor(DefaultAlpha())
	positions := []Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {2, 1, 0}, {2, 1, 1}}
	want := []Vec3{{0, 0, 0}, {1, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

	samples := run(p, positions, 1)
	require.Len(t, samples, 5)

	for i, s := range samples {
		require.Len(t, s.Spatial, 1)
		pose := s.Spatial[0]

		assert.Equal(t, uint64(i+1), s.Tick)
		assert.InDelta(t, want[i].X, pose.VelocityRaw.X, tolerance, "tick %d", i+1)
		assert.InDelta(t, want[i].Y, pose.VelocityRaw.Y, tolerance, "tick %d", i+1)
		assert.InDelta(t, want[i].Z, pose.VelocityRaw.Z, tolerance, "tick %d", i+1)

		pairs := []struct {
			mag float64
			vec Vec3
		}{
			{pose.Magnitudes.Position, pose.Position},
			{pose.Magnitudes.PositionRaw, pose.PositionRaw},
			{pose.Magnitudes.Rotation, pose.Rotation},
			{pose.Magnitudes.RotationRaw, pose.RotationRaw},
			{pose.Magnitudes.Velocity, pose.Velocity},
			{pose.Magnitudes.VelocityRaw, pose.VelocityRaw},
			{pose.Magnitudes.AngularVelocity, pose.AngularVelocity},
			{pose.Magnitudes.AngularVelocityRaw, pose.AngularVelocityRaw},
			{pose.Magnitudes.Acceleration, pose.Acceleration},
			{pose.Magnitudes.AccelerationRaw, pose.AccelerationRaw},
			{pose.Magnitudes.AngularAcceleration, pose.AngularAcceleration},
			{pose.Magnitudes.AngularAccelerationRaw, pose.AngularAccelerationRaw},
		}
		for j, pair := range pairs {
			expected := math.Sqrt(pair.vec.X*pair.vec.X + pair.vec.Y*pair.vec.Y + pair.vec.Z*pair.vec.Z)
			assert.GreaterOrEqual(t, pair.mag, 0.0)
			assert.InDelta(t, expected, pair.mag, tolerance, "tick %d field %d", i+1, j)
		}
	}
}

func TestProcess_ContinuousEMAInvariantToInterval(t *testing.T) {
	alpha := DefaultAlpha()
	alpha.Position = 0.1
	p := NewProcessor(alpha)
	ideal := 0.05
	target := Vec3{X: 10}

	step := func(dt float64, seconds float64) []Sample {
		var previous Sample
		var out []Sample
		n := int(math.Round(seconds / dt))
		for i := 0; i <= n; i++ {
			current := previous.Clone()
			if i == 0 {
				current.SpatialPose("head").Position = Vec3{}
			} else {
				current.SpatialPose("head").Position = target
			}
			p.Process(&current, &previous, TickMeta{IdealInterval: ideal, ActualInterval: dt})
			out = append(out, current)
			previous = current
		}
		return out
	}

	fast := step(0.1, 1)
	slow := step(0.25, 1)

	// after the same elapsed time both runs have decayed by the same amount
	want := target.X * (1 - math.Pow(1-alpha.Position, 1/ideal))
	assert.InDelta(t, want, fast[len(fast)-1].Spatial[0].Position.X, 1e-6)
	assert.InDelta(t, want, slow[len(slow)-1].Spatial[0].Position.X, 1e-6)

	longFast := step(0.1, 30)
	longSlow := step(0.25, 30)
	assert.InDelta(t, target.X, longFast[len(longFast)-1].Spatial[0].Position.X, 1e-3)
	assert.InDelta(t, target.X, longSlow[len(longSlow)-1].Spatial[0].Position.X, 1e-3)

	for _, run := range [][]Sample{longFast, longSlow} {
		for _, s := range run {
			x := s.Spatial[0].Position.X
			assert.GreaterOrEqual(t, x, 0.0)
			assert.LessOrEqual(t, x, target.X+tolerance)
		}
	}
}

func TestProcess_RotationUsesShortestPath(t *testing.T) {
	p := NewProcessor(DefaultAlpha())

	var previous Sample
	current := previous.Clone()
	current.SpatialPose("head").Rotation = Vec3{Y: 350}
	p.Process(&current, &previous, TickMeta{IdealInterval: 1, ActualInterval: 1})

	previous = current
	current = previous.Clone()
	current.Spatial[0].Rotation = Vec3{Y: 10}
	p.Process(&current, &previous, TickMeta{IdealInterval: 1, ActualInterval: 1})

	got := current.Spatial[0].AngularVelocityRaw
	assert.InDelta(t, 0, got.X, 1e-6)
	assert.InDelta(t, 20, got.Y, 1e-6)
	assert.InDelta(t, 0, got.Z, 1e-6)
	assert.InDelta(t, 10, current.Spatial[0].Rotation.Y, 1e-6)
}

func TestProcess_InvalidIntervalResolvesToZero(t *testing.T) {
	p := NewProcessor(DefaultAlpha())

	var previous Sample
	current := previous.Clone()
	current.SpatialPose("vehicle").Position = Vec3{X: 1}
	p.Process(&current, &previous, TickMeta{IdealInterval: 0.02, ActualInterval: 0.02})

	previous = current
	current = previous.Clone()
	current.Spatial[0].Position = Vec3{X: 5}
	p.Process(&current, &previous, TickMeta{IdealInterval: 0.02, ActualInterval: math.NaN()})

	pose := current.Spatial[0]
	assert.Equal(t, Vec3{}, pose.VelocityRaw)
	assert.Equal(t, Vec3{}, pose.AccelerationRaw)
	assert.Equal(t, 0.0, current.ActualInterval)
	assert.Equal(t, Vec3{X: 1}, pose.Position, "filter holds previous value")
}

func TestProcess_Viewport(t *testing.T) {
	p := NewProcessor(DefaultAlpha())

	var previous Sample
	for i, x := range []float64{0.1, 0.3, 0.5} {
		current := previous.Clone()
		current.ViewportPose("gaze").Position = Vec2{X: x, Y: 0.5}
		p.Process(&current, &previous, TickMeta{IdealInterval: 0.1, ActualInterval: 0.1})

		vp := current.Viewport[0]
		if i == 0 {
			assert.Equal(t, Vec2{}, vp.VelocityRaw)
		} else {
			assert.InDelta(t, 2, vp.VelocityRaw.X, 1e-9)
			assert.InDelta(t, 0, vp.VelocityRaw.Y, 1e-9)
		}
		assert.InDelta(t, vp.VelocityRaw.Magnitude(), vp.Magnitudes.VelocityRaw, tolerance)
		previous = current
	}
}

func TestProcess_NewPoseMidStreamIsSeeded(t *testing.T) {
	p := NewProcessor(DefaultAlpha())

	var previous Sample
	current := previous.Clone()
	current.SpatialPose("head").Position = Vec3{X: 1}
	p.Process(&current, &previous, TickMeta{IdealInterval: 1, ActualInterval: 1})

	previous = current
	current = previous.Clone()
	current.SpatialPose("leftHand").Position = Vec3{X: 100}
	p.Process(&current, &previous, TickMeta{IdealInterval: 1, ActualInterval: 1})

	hand := current.SpatialPose("leftHand")
	assert.Equal(t, Vec3{}, hand.VelocityRaw)
	assert.Equal(t, Vec3{X: 100}, hand.Position)
}

func requireFinite(t *testing.T, s Sample) {
	t.Helper()
	_, err := json.Marshal(s)
	require.NoError(t, err, "tick %d holds a non-finite value", s.Tick)
}

func TestProcess_OverflowingDerivativesStayFinite(t *testing.T) {
	positions := []Vec3{{}, {X: 1e308}, {X: -1e308}, {}}
	for i := 0; i < 10; i++ {
		positions = append(positions, Vec3{X: float64(i)})
	}

	samples := run(NewProcessor(DefaultAlpha()), positions, 0.5)

	for _, s := range samples {
		requireFinite(t, s)
	}
	assert.Equal(t, Vec3{}, samples[2].Spatial[0].VelocityRaw, "overflowed velocity becomes zero")
	last := samples[len(samples)-1].Spatial[0]
	assert.InDelta(t, 2, last.VelocityRaw.X, tolerance, "later ticks recover")
}

func TestProcess_TinyIntervalStaysFinite(t *testing.T) {
	p := NewProcessor(DefaultAlpha())

	var previous Sample
	for i, x := range []float64{0, 1, 2, 3} {
		current := previous.Clone()
		current.SpatialPose("head").Position = Vec3{X: x}
		current.ViewportPose("gaze").Position = Vec2{X: x}
		actual := 0.02
		if i == 2 {
			actual = math.SmallestNonzeroFloat64
		}
		p.Process(&current, &previous, TickMeta{IdealInterval: 0.02, ActualInterval: actual})

		requireFinite(t, current)
		previous = current
	}
}

func TestMagnitude_Overflow(t *testing.T) {
	assert.Equal(t, 0.0, Vec3{X: 1e308, Y: 1e308}.Magnitude())
	assert.Equal(t, 0.0, Vec2{X: -1e308, Y: 1e308}.Magnitude())
	assert.InDelta(t, 1e308, Vec3{X: 1e308}.Magnitude(), 1e295)
}
