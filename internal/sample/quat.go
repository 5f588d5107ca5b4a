package sample

import "math"

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// Quat is a unit quaternion. Euler conversions use the yaw-pitch-roll order
// where roll (Z) is applied first, then pitch (X), then yaw (Y).
type Quat struct {
	W, X, Y, Z float64
}

// QuatFromEuler builds a rotation from Euler angles in degrees.
func QuatFromEuler(e Vec3) Quat {
	hx, hy, hz := e.X*deg2rad/2, e.Y*deg2rad/2, e.Z*deg2rad/2
	qx := Quat{W: math.Cos(hx), X: math.Sin(hx)}
	qy := Quat{W: math.Cos(hy), Y: math.Sin(hy)}
	qz := Quat{W: math.Cos(hz), Z: math.Sin(hz)}
	return qy.Mul(qx).Mul(qz)
}

// Mul returns the Hamilton product q*o.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Conjugate returns the inverse of a unit quaternion.
func (q Quat) Conjugate() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Euler converts q back to Euler angles in degrees, each in (-180, 180].
func (q Quat) Euler() Vec3 {
	// rotation matrix terms for R = Ry * Rx * Rz
	r12 := 2 * (q.Y*q.Z - q.W*q.X)
	r02 := 2 * (q.X*q.Z + q.W*q.Y)
	r22 := 1 - 2*(q.X*q.X+q.Y*q.Y)
	r10 := 2 * (q.X*q.Y + q.W*q.Z)
	r11 := 1 - 2*(q.X*q.X+q.Z*q.Z)

	sinPitch := -r12
	if sinPitch >= 0.999999 || sinPitch <= -0.999999 {
		// gimbal lock: fold roll into yaw
		r00 := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
		r20 := 2 * (q.X*q.Z - q.W*q.Y)
		pitch := math.Copysign(90, sinPitch)
		return NormalizeEuler(Vec3{X: pitch, Y: math.Atan2(-r20, r00) * rad2deg})
	}

	return NormalizeEuler(Vec3{
		X: math.Asin(sinPitch) * rad2deg,
		Y: math.Atan2(r02, r22) * rad2deg,
		Z: math.Atan2(r10, r11) * rad2deg,
	})
}

// RotationDelta returns the shortest rotation taking from to to, expressed in
// the local frame of from as Euler degrees normalized into (-180, 180].
func RotationDelta(from, to Vec3) Vec3 {
	return QuatFromEuler(from).Conjugate().Mul(QuatFromEuler(to)).Euler()
}
