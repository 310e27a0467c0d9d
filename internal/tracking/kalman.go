package tracking

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateCovariance is returned by kalmanFilter.update when the
// innovation covariance is singular and cannot be inverted. This
// aborts only the single update; the track keeps its predicted state.
var ErrDegenerateCovariance = errors.New("tracking: degenerate innovation covariance")

// kalmanFilter implements the constant-velocity, constant-scale-rate
// filter over state (cx, cy, w, h, vx, vy, vs) with a 7x7 covariance.
type kalmanFilter struct {
	x *mat.VecDense // 7x1 state
	p *mat.Dense    // 7x7 covariance
	f *mat.Dense    // 7x7 state transition
	h *mat.Dense    // 4x7 measurement matrix
	q *mat.Dense    // 7x7 process noise
	r *mat.Dense    // 4x4 measurement noise
}

const stateDim = 7
const measDim = 4

// newKalmanFilter initializes a filter at the given measurement
// (cx, cy, w, h) with zero velocity, identity covariance scaled by 1000
// for unmatched-detection spawns.
func newKalmanFilter(cx, cy, w, h, processNoisePos, processNoiseScale, measurementNoise float64) *kalmanFilter {
	x := mat.NewVecDense(stateDim, []float64{cx, cy, w, h, 0, 0, 0})

	p := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		p.Set(i, i, 1000)
	}

	f := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.Set(i, i, 1)
	}
	// Constant velocity: cx += vx, cy += vy; constant scale-rate: w,h grow with vs.
	f.Set(0, 4, 1)
	f.Set(1, 5, 1)
	f.Set(2, 6, 1)
	f.Set(3, 6, 1)

	h_ := mat.NewDense(measDim, stateDim, nil)
	h_.Set(0, 0, 1)
	h_.Set(1, 1, 1)
	h_.Set(2, 2, 1)
	h_.Set(3, 3, 1)

	q := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < 4; i++ {
		q.Set(i, i, processNoisePos)
	}
	for i := 4; i < stateDim; i++ {
		q.Set(i, i, processNoiseScale)
	}

	r := mat.NewDense(measDim, measDim, nil)
	for i := 0; i < measDim; i++ {
		r.Set(i, i, measurementNoise)
	}

	return &kalmanFilter{x: x, p: p, f: f, h: h_, q: q, r: r}
}

// predict advances the state one step: x = F*x, P = F*P*F' + Q.
func (k *kalmanFilter) predict() {
	var x mat.VecDense
	x.MulVec(k.f, k.x)
	k.x = &x

	var fp mat.Dense
	fp.Mul(k.f, k.p)
	var fpft mat.Dense
	fpft.Mul(&fp, k.f.T())
	fpft.Add(&fpft, k.q)
	k.p = &fpft
}

// box returns the predicted/updated (cx, cy, w, h).
func (k *kalmanFilter) box() (cx, cy, w, h float64) {
	return k.x.AtVec(0), k.x.AtVec(1), k.x.AtVec(2), k.x.AtVec(3)
}

// update incorporates a measurement (cx, cy, w, h). Returns
// ErrDegenerateCovariance if the innovation covariance is singular; the
// filter's state is left untouched in that case.
func (k *kalmanFilter) update(cx, cy, w, h float64) error {
	z := mat.NewVecDense(measDim, []float64{cx, cy, w, h})

	var hx mat.VecDense
	hx.MulVec(k.h, k.x)

	var y mat.VecDense
	y.SubVec(z, &hx)

	var hp mat.Dense
	hp.Mul(k.h, k.p)
	var s mat.Dense
	s.Mul(&hp, k.h.T())
	s.Add(&s, k.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return ErrDegenerateCovariance
	}

	var pht mat.Dense
	pht.Mul(k.p, k.h.T())
	var kg mat.Dense
	kg.Mul(&pht, &sInv)

	var ky mat.VecDense
	ky.MulVec(&kg, &y)
	var xNew mat.VecDense
	xNew.AddVec(k.x, &ky)
	k.x = &xNew

	ident := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		ident.Set(i, i, 1)
	}
	var kh mat.Dense
	kh.Mul(&kg, k.h)
	var ikh mat.Dense
	ikh.Sub(ident, &kh)
	var pNew mat.Dense
	pNew.Mul(&ikh, k.p)
	k.p = &pNew

	return nil
}
