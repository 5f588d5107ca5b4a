package sample

import "math"

// Alpha holds the smoothing factor of each filtered field, defined for the
// ideal tick interval. 1 disables smoothing, 0 freezes the field.
type Alpha struct {
	Position            float64 `json:"position" mapstructure:"position"`
	Rotation            float64 `json:"rotation" mapstructure:"rotation"`
	Velocity            float64 `json:"velocity" mapstructure:"velocity"`
	AngularVelocity     float64 `json:"angularVelocity" mapstructure:"angularVelocity"`
	Acceleration        float64 `json:"acceleration" mapstructure:"acceleration"`
	AngularAcceleration float64 `json:"angularAcceleration" mapstructure:"angularAcceleration"`
}

// DefaultAlpha returns the smoothing factors used when none are configured.
func DefaultAlpha() Alpha {
	return Alpha{
		Position:            1,
		Rotation:            1,
		Velocity:            0.5,
		AngularVelocity:     0.5,
		Acceleration:        0.25,
		AngularAcceleration: 0.25,
	}
}

// ContinuousAlpha rectifies a smoothing factor defined for the ideal interval
// to the actual interval, so that the filter's half-life in seconds does not
// depend on tick jitter. It returns alpha and 1-alpha.
func ContinuousAlpha(alphaIdeal, idealInterval, actualInterval float64) (alpha, oneMinusAlpha float64) {
	alphaIdeal = math.Min(math.Max(finite(alphaIdeal), 0), 1)
	if !validInterval(actualInterval) {
		return 0, 1
	}
	if !validInterval(idealInterval) {
		return alphaIdeal, 1 - alphaIdeal
	}
	rectifiedExponent := actualInterval / idealInterval
	oneMinusAlpha = math.Pow(1-alphaIdeal, rectifiedExponent)
	return 1 - oneMinusAlpha, oneMinusAlpha
}

func validInterval(s float64) bool {
	return s > 0 && !math.IsInf(s, 0)
}

// Processor derives raw and filtered kinematics for a Sample from its
// immediate predecessor. It holds no state between calls.
type Processor struct {
	alpha Alpha
}

// NewProcessor creates a processor with the given smoothing factors.
func NewProcessor(alpha Alpha) *Processor {
	return &Processor{alpha: alpha}
}

// Alpha returns the configured smoothing factors.
func (p *Processor) Alpha() Alpha {
	return p.alpha
}

// Process finalizes current in place using previous as the predecessor.
// Previous is only read. On the first tick previous should be the zero Sample.
func (p *Processor) Process(current, previous *Sample, meta TickMeta) {
	ideal := finite(meta.IdealInterval)
	actual := finite(meta.ActualInterval)

	current.Tick = previous.Tick + 1
	current.WallTime = meta.WallTime
	current.IdealInterval = ideal
	current.ActualInterval = actual
	current.SimTime = previous.SimTime + ideal

	inv := 0.0
	if validInterval(actual) {
		inv = finite(1 / actual)
	}

	k := coefficients{
		position:            newCoefficient(p.alpha.Position, ideal, actual),
		rotation:            newCoefficient(p.alpha.Rotation, ideal, actual),
		velocity:            newCoefficient(p.alpha.Velocity, ideal, actual),
		angularVelocity:     newCoefficient(p.alpha.AngularVelocity, ideal, actual),
		acceleration:        newCoefficient(p.alpha.Acceleration, ideal, actual),
		angularAcceleration: newCoefficient(p.alpha.AngularAcceleration, ideal, actual),
	}

	for i := range current.Spatial {
		cur := &current.Spatial[i]
		prev, ok := matchSpatial(previous.Spatial, cur.Name, i)
		if !ok {
			prev = seedSpatial(cur)
		}
		processSpatial(cur, &prev, inv, k)
	}

	for i := range current.Viewport {
		cur := &current.Viewport[i]
		prev, ok := matchViewport(previous.Viewport, cur.Name, i)
		if !ok {
			prev = ViewportPose{Position: cur.Position, PositionRaw: cur.Position}
		}
		processViewport(cur, &prev, inv, k)
	}
}

type coefficient struct {
	alpha, oneMinus float64
}

func newCoefficient(alphaIdeal, ideal, actual float64) coefficient {
	a, om := ContinuousAlpha(alphaIdeal, ideal, actual)
	return coefficient{alpha: a, oneMinus: om}
}

func (c coefficient) vec3(raw, prevFiltered Vec3) Vec3 {
	return raw.Scale(c.alpha).Add(prevFiltered.Scale(c.oneMinus)).sanitized()
}

func (c coefficient) vec2(raw, prevFiltered Vec2) Vec2 {
	return raw.Scale(c.alpha).Add(prevFiltered.Scale(c.oneMinus)).sanitized()
}

// angles filters along the shortest angular path so that a wrap from 179
// to -179 degrees moves the filter by 2 degrees, not 358.
func (c coefficient) angles(raw, prevFiltered Vec3) Vec3 {
	return NormalizeEuler(Vec3{
		X: prevFiltered.X + c.alpha*DeltaAngle(prevFiltered.X, raw.X),
		Y: prevFiltered.Y + c.alpha*DeltaAngle(prevFiltered.Y, raw.Y),
		Z: prevFiltered.Z + c.alpha*DeltaAngle(prevFiltered.Z, raw.Z),
	}.sanitized())
}

type coefficients struct {
	position, rotation                coefficient
	velocity, angularVelocity         coefficient
	acceleration, angularAcceleration coefficient
}

func matchSpatial(prev []SpatialPose, name string, idx int) (SpatialPose, bool) {
	if idx < len(prev) && prev[idx].Name == name {
		return prev[idx], true
	}
	for _, p := range prev {
		if p.Name == name {
			return p, true
		}
	}
	return SpatialPose{}, false
}

func matchViewport(prev []ViewportPose, name string, idx int) (ViewportPose, bool) {
	if idx < len(prev) && prev[idx].Name == name {
		return prev[idx], true
	}
	for _, p := range prev {
		if p.Name == name {
			return p, true
		}
	}
	return ViewportPose{}, false
}

// seedSpatial stands in for a missing predecessor: zero derivatives, and
// filters that start at the current input.
func seedSpatial(cur *SpatialPose) SpatialPose {
	return SpatialPose{
		Position:    cur.Position,
		Rotation:    NormalizeEuler(cur.Rotation),
		PositionRaw: cur.Position,
		RotationRaw: cur.Rotation,
	}
}

func processSpatial(cur, prev *SpatialPose, inv float64, k coefficients) {
	cur.PositionRaw = cur.Position
	cur.RotationRaw = cur.Rotation

	// derivatives of finite inputs can still overflow; an overflowed value
	// becomes zero so it never reaches the filters or the record file
	cur.VelocityRaw = cur.PositionRaw.Sub(prev.PositionRaw).Scale(inv).sanitized()
	cur.AngularVelocityRaw = RotationDelta(prev.RotationRaw, cur.RotationRaw).Scale(inv).sanitized()

	cur.AccelerationRaw = cur.VelocityRaw.Sub(prev.VelocityRaw).Scale(inv).sanitized()
	cur.AngularAccelerationRaw = cur.AngularVelocityRaw.Sub(prev.AngularVelocityRaw).Scale(inv).sanitized()

	cur.Position = k.position.vec3(cur.PositionRaw, prev.Position)
	cur.Rotation = k.rotation.angles(cur.RotationRaw, prev.Rotation)
	cur.Velocity = k.velocity.vec3(cur.VelocityRaw, prev.Velocity)
	cur.AngularVelocity = k.angularVelocity.vec3(cur.AngularVelocityRaw, prev.AngularVelocity)
	cur.Acceleration = k.acceleration.vec3(cur.AccelerationRaw, prev.Acceleration)
	cur.AngularAcceleration = k.angularAcceleration.vec3(cur.AngularAccelerationRaw, prev.AngularAcceleration)

	cur.Magnitudes = SpatialMagnitudes{
		Position:               cur.Position.Magnitude(),
		PositionRaw:            cur.PositionRaw.Magnitude(),
		Rotation:               cur.Rotation.Magnitude(),
		RotationRaw:            cur.RotationRaw.Magnitude(),
		Velocity:               cur.Velocity.Magnitude(),
		VelocityRaw:            cur.VelocityRaw.Magnitude(),
		AngularVelocity:        cur.AngularVelocity.Magnitude(),
		AngularVelocityRaw:     cur.AngularVelocityRaw.Magnitude(),
		Acceleration:           cur.Acceleration.Magnitude(),
		AccelerationRaw:        cur.AccelerationRaw.Magnitude(),
		AngularAcceleration:    cur.AngularAcceleration.Magnitude(),
		AngularAccelerationRaw: cur.AngularAccelerationRaw.Magnitude(),
	}
}

func processViewport(cur, prev *ViewportPose, inv float64, k coefficients) {
	cur.PositionRaw = cur.Position
	cur.VelocityRaw = cur.PositionRaw.Sub(prev.PositionRaw).Scale(inv).sanitized()
	cur.AccelerationRaw = cur.VelocityRaw.Sub(prev.VelocityRaw).Scale(inv).sanitized()

	cur.Position = k.position.vec2(cur.PositionRaw, prev.Position)
	cur.Velocity = k.velocity.vec2(cur.VelocityRaw, prev.Velocity)
	cur.Acceleration = k.acceleration.vec2(cur.AccelerationRaw, prev.Acceleration)

	cur.Magnitudes = ViewportMagnitudes{
		Position:        cur.Position.Magnitude(),
		PositionRaw:     cur.PositionRaw.Magnitude(),
		Velocity:        cur.Velocity.Magnitude(),
		VelocityRaw:     cur.VelocityRaw.Magnitude(),
		Acceleration:    cur.Acceleration.Magnitude(),
		AccelerationRaw: cur.AccelerationRaw.Magnitude(),
	}
}
