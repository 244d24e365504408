// Package tdoa solves for a 2-D source position from arrival-time
// differences at three stations.
package tdoa

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/seismic-locator/internal/domain"
)

var (
	ErrInsufficientObservations = errors.New("exactly three valid observations are required")
	ErrDegenerateGeometry       = errors.New("station geometry is degenerate")
	ErrInvalidSpeed             = errors.New("wave speed must be positive")
)

const (
	Stations      = 3
	MaxIterations = 50
	Tolerance     = 1e-6 // km
	minDet        = 1e-12
)

// Solve runs Gauss-Newton on the time differences relative to obs[0],
// starting from the station centroid. speed is in km/s and arrivals in
// seconds. The result is in the observations' planar frame.
func Solve(obs []domain.StationObservation, speed float64) (domain.Epicenter, error) {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return domain.Epicenter{}, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	if len(obs) != Stations {
		return domain.Epicenter{}, fmt.Errorf("%w: got %d", ErrInsufficientObservations, len(obs))
	}

	var x, y float64
	for _, o := range obs {
		x += o.X / Stations
		y += o.Y / Stations
	}

	jac := mat.NewDense(Stations-1, 2, nil)
	res := mat.NewVecDense(Stations-1, nil)
	var (
		jtj mat.Dense
		jtr mat.VecDense
	)

	epi := domain.Epicenter{}
	for iter := 1; iter <= MaxIterations; iter++ {
		epi.Iterations = iter

		d0 := math.Hypot(x-obs[0].X, y-obs[0].Y)
		ux0, uy0 := unit(x-obs[0].X, y-obs[0].Y, d0)
		for i := 1; i < Stations; i++ {
			di := math.Hypot(x-obs[i].X, y-obs[i].Y)
			uxi, uyi := unit(x-obs[i].X, y-obs[i].Y, di)
			res.SetVec(i-1, (di-d0)/speed-(obs[i].Arrival-obs[0].Arrival))
			jac.Set(i-1, 0, (uxi-ux0)/speed)
			jac.Set(i-1, 1, (uyi-uy0)/speed)
		}

		jtj.Mul(jac.T(), jac)
		jtr.MulVec(jac.T(), res)

		a, b := jtj.At(0, 0), jtj.At(0, 1)
		c, d := jtj.At(1, 0), jtj.At(1, 1)
		det := a*d - b*c
		if math.IsNaN(det) || math.Abs(det) < minDet {
			return domain.Epicenter{}, fmt.Errorf("%w: determinant %.3g at iteration %d", ErrDegenerateGeometry, det, iter)
		}

		g0, g1 := jtr.AtVec(0), jtr.AtVec(1)
		dx := -(d*g0 - b*g1) / det
		dy := -(-c*g0 + a*g1) / det
		x += dx
		y += dy

		if math.Hypot(dx, dy) < Tolerance {
			epi.Converged = true
			break
		}
	}

	if !finite(x) || !finite(y) {
		return domain.Epicenter{}, fmt.Errorf("%w: solution diverged", ErrDegenerateGeometry)
	}
	epi.X, epi.Y = x, y
	return epi, nil
}

func unit(dx, dy, dist float64) (float64, float64) {
	if dist == 0 {
		return 0, 0
	}
	return dx / dist, dy / dist
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
