// Package sample holds the per-tick measurement record and the processing that
// derives raw and filtered kinematics from it.
package sample

import (
	"maps"
	"time"
)

// SpatialMagnitudes holds the Euclidean length of every SpatialPose vector field.
type SpatialMagnitudes struct {
	Position               float64 `json:"position"`
	PositionRaw            float64 `json:"positionRaw"`
	Rotation               float64 `json:"rotation"`
	RotationRaw            float64 `json:"rotationRaw"`
	Velocity               float64 `json:"velocity"`
	VelocityRaw            float64 `json:"velocityRaw"`
	AngularVelocity        float64 `json:"angularVelocity"`
	AngularVelocityRaw     float64 `json:"angularVelocityRaw"`
	Acceleration           float64 `json:"acceleration"`
	AccelerationRaw        float64 `json:"accelerationRaw"`
	AngularAcceleration    float64 `json:"angularAcceleration"`
	AngularAccelerationRaw float64 `json:"angularAccelerationRaw"`
}

// SpatialPose is a tracked 3-D body: head, hands, vehicle.
// Collaborators write Position and Rotation; everything else is derived.
type SpatialPose struct {
	Name string `json:"name"`

	Position            Vec3 `json:"position"`
	Rotation            Vec3 `json:"rotation"`
	Velocity            Vec3 `json:"velocity"`
	AngularVelocity     Vec3 `json:"angularVelocity"`
	Acceleration        Vec3 `json:"acceleration"`
	AngularAcceleration Vec3 `json:"angularAcceleration"`

	PositionRaw            Vec3 `json:"positionRaw"`
	RotationRaw            Vec3 `json:"rotationRaw"`
	VelocityRaw            Vec3 `json:"velocityRaw"`
	AngularVelocityRaw     Vec3 `json:"angularVelocityRaw"`
	AccelerationRaw        Vec3 `json:"accelerationRaw"`
	AngularAccelerationRaw Vec3 `json:"angularAccelerationRaw"`

	Magnitudes SpatialMagnitudes `json:"magnitudes"`
}

// ViewportMagnitudes holds the Euclidean length of every ViewportPose vector field.
type ViewportMagnitudes struct {
	Position        float64 `json:"position"`
	PositionRaw     float64 `json:"positionRaw"`
	Velocity        float64 `json:"velocity"`
	VelocityRaw     float64 `json:"velocityRaw"`
	Acceleration    float64 `json:"acceleration"`
	AccelerationRaw float64 `json:"accelerationRaw"`
}

// ViewportPose is a tracked point in screen space, such as a gaze hit.
type ViewportPose struct {
	Name string `json:"name"`

	Position     Vec2 `json:"position"`
	Velocity     Vec2 `json:"velocity"`
	Acceleration Vec2 `json:"acceleration"`

	PositionRaw     Vec2 `json:"positionRaw"`
	VelocityRaw     Vec2 `json:"velocityRaw"`
	AccelerationRaw Vec2 `json:"accelerationRaw"`

	Magnitudes ViewportMagnitudes `json:"magnitudes"`
}

// Sample is one tick's complete measurement and derived-state snapshot.
type Sample struct {
	Tick           uint64    `json:"tick"`
	WallTime       time.Time `json:"wallTime"`
	SimTime        float64   `json:"simTime"`
	IdealInterval  float64   `json:"idealInterval"`
	ActualInterval float64   `json:"actualInterval"`

	Spatial  []SpatialPose  `json:"spatial"`
	Viewport []ViewportPose `json:"viewport"`

	Buttons     map[string]bool    `json:"buttons,omitempty"`
	Axes        map[string]float64 `json:"axes,omitempty"`
	BlendShapes map[string]float64 `json:"blendShapes,omitempty"`
	Config      map[string]string  `json:"config,omitempty"`
	Scene       string             `json:"scene"`
	Sickness    float64            `json:"sickness"`
}

// TickMeta carries the timing of one tick in seconds.
type TickMeta struct {
	IdealInterval  float64
	ActualInterval float64
	WallTime       time.Time
}

// Clone returns a deep copy of s. The buffer stores clones so that a pushed
// Sample is never touched again by the tick loop.
func (s *Sample) Clone() Sample {
	c := *s
	if s.Spatial != nil {
		c.Spatial = append([]SpatialPose(nil), s.Spatial...)
	}
	if s.Viewport != nil {
		c.Viewport = append([]ViewportPose(nil), s.Viewport...)
	}
	c.Buttons = maps.Clone(s.Buttons)
	c.Axes = maps.Clone(s.Axes)
	c.BlendShapes = maps.Clone(s.BlendShapes)
	c.Config = maps.Clone(s.Config)
	return c
}

// SpatialPose returns the pose with the given name, appending an empty one if absent.
func (s *Sample) SpatialPose(name string) *SpatialPose {
	for i := range s.Spatial {
		if s.Spatial[i].Name == name {
			return &s.Spatial[i]
		}
	}
	s.Spatial = append(s.Spatial, SpatialPose{Name: name})
	return &s.Spatial[len(s.Spatial)-1]
}

// ViewportPose returns the viewport pose with the given name, appending an empty one if absent.
func (s *Sample) ViewportPose(name string) *ViewportPose {
	for i := range s.Viewport {
		if s.Viewport[i].Name == name {
			return &s.Viewport[i]
		}
	}
	s.Viewport = append(s.Viewport, ViewportPose{Name: name})
	return &s.Viewport[len(s.Viewport)-1]
}

// Sanitize replaces non-finite inputs with zero so a bad sensor read never
// poisons the derivative chain.
func (s *Sample) Sanitize() {
	for i := range s.Spatial {
		p := &s.Spatial[i]
		p.Position = p.Position.sanitized()
		p.Rotation = p.Rotation.sanitized()
	}
	for i := range s.Viewport {
		s.Viewport[i].Position = s.Viewport[i].Position.sanitized()
	}
	for k, v := range s.Axes {
		s.Axes[k] = finite(v)
	}
	for k, v := range s.BlendShapes {
		s.BlendShapes[k] = finite(v)
	}
	s.Sickness = finite(s.Sickness)
}
