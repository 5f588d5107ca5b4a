package sample

import "math"

// Vec3 is a three component vector. Rotations are stored as Euler angles in degrees.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec2 is the viewport analogue of Vec3.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Magnitude returns the Euclidean length of v, or 0 if it overflows.
func (v Vec3) Magnitude() float64 {
	return finite(math.Hypot(math.Hypot(v.X, v.Y), v.Z))
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v * s.
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }

// Magnitude returns the Euclidean length of v, or 0 if it overflows.
func (v Vec2) Magnitude() float64 {
	return finite(math.Hypot(v.X, v.Y))
}

// NormalizeAngle maps an angle in degrees into (-180, 180].
func NormalizeAngle(deg float64) float64 {
	a := math.Mod(deg, 360)
	if a <= -180 {
		a += 360
	} else if a > 180 {
		a -= 360
	}
	return a
}

// DeltaAngle returns the shortest signed angle in degrees that takes from to to.
func DeltaAngle(from, to float64) float64 {
	return NormalizeAngle(to - from)
}

// NormalizeEuler applies NormalizeAngle to every axis.
func NormalizeEuler(v Vec3) Vec3 {
	return Vec3{NormalizeAngle(v.X), NormalizeAngle(v.Y), NormalizeAngle(v.Z)}
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func (v Vec3) sanitized() Vec3 { return Vec3{finite(v.X), finite(v.Y), finite(v.Z)} }

func (v Vec2) sanitized() Vec2 { return Vec2{finite(v.X), finite(v.Y)} }
