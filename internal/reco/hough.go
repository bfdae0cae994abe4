package reco

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// degeneracyEps rejects fitted directions lying (almost) in the x-y plane,
// where the a_z = 0 anchor parametrization breaks down.
const degeneracyEps = 1e-3

// minFitPoints is the smallest inlier count a least-squares refinement can
// work with.
const minFitPoints = 3

// HoughConfig configures the iterative Hough transform.
type HoughConfig struct {
	Threshold   int     // minimum newly-claimed inliers to accept a line
	NDirections int     // candidate directions sampled over the hemisphere
	NPositions  int     // position bins per axis
	DR          float64 // inlier distance; 0 derives it from the bin width
}

// LineFit pairs an accepted line with the indices of its inliers in the
// input point cloud. Inlier sets of successive lines may overlap; the
// acceptance threshold applies only to points not claimed by an earlier
// line.
type LineFit struct {
	Line    Line
	Inliers []int
}

// houghSpace is the vote accumulator over (direction, xp-bin, yp-bin) plus
// the frame bookkeeping shared by all iterations on one point cloud.
type houghSpace struct {
	thetas      []float64
	phis        []float64
	edges       []float64 // len npos+1, spanning [-R, R]
	npos        int
	translation r3.Vec // bounding-box center of the input cloud
	centered    []r3.Vec
	acc         []int
	dr          float64
}

// fibonacciHemisphere returns n quasi-uniform unit directions with z >= 0,
// generated by golden-angle spiral sampling of the sphere.
func fibonacciHemisphere(n int) []r3.Vec {
	points := make([]r3.Vec, 0, n)
	samples := 2 * n
	offset := 2.0 / float64(samples)
	increment := math.Pi * (3.0 - math.Sqrt(5.0))

	for i := 0; i < samples && len(points) < n; i++ {
		y := (float64(i)*offset - 1) + offset/2
		r := math.Sqrt(1 - y*y)
		phi := float64((i+1)%samples) * increment
		x := math.Cos(phi) * r
		z := math.Sin(phi) * r
		if z >= 0 {
			points = append(points, r3.Vec{X: x, Y: y, Z: z})
		}
	}
	return points
}

// newHoughSpace centers the cloud on its bounding-box middle, lays out the
// position bins over the half-diagonal radius, and casts the initial votes.
func newHoughSpace(points []r3.Vec, cfg HoughConfig) *houghSpace {
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	translation := r3.Scale(0.5, r3.Add(lo, hi))
	radius := r3.Norm(r3.Scale(0.5, r3.Sub(hi, lo)))

	centered := make([]r3.Vec, len(points))
	for i, p := range points {
		centered[i] = r3.Sub(p, translation)
	}

	edges := make([]float64, cfg.NPositions+1)
	for i := range edges {
		edges[i] = -radius + 2*radius*float64(i)/float64(cfg.NPositions)
	}
	binWidth := edges[1] - edges[0]
	dr := cfg.DR
	if dr <= 0 {
		dr = binWidth
	}

	dirs := fibonacciHemisphere(cfg.NDirections)
	hs := &houghSpace{
		thetas:      make([]float64, len(dirs)),
		phis:        make([]float64, len(dirs)),
		edges:       edges,
		npos:        cfg.NPositions,
		translation: translation,
		centered:    centered,
		acc:         make([]int, len(dirs)*cfg.NPositions*cfg.NPositions),
		dr:          dr,
	}
	for i, d := range dirs {
		hs.thetas[i], hs.phis[i] = sphericalFromUnit(d, false)
	}
	hs.vote(allIndices(len(points)), +1)
	return hs
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// bin clamps a position coordinate into a bin index.
func (hs *houghSpace) bin(v float64) int {
	i := sort.SearchFloat64s(hs.edges, v) - 1
	if i < 0 {
		i = 0
	}
	if i > hs.npos-1 {
		i = hs.npos - 1
	}
	return i
}

// vote adds (weight +1) or retracts (weight -1) the contribution of the
// given points for every candidate direction.
func (hs *houghSpace) vote(indices []int, weight int) {
	for _, pi := range indices {
		p := hs.centered[pi]
		for di := range hs.thetas {
			xp, yp := computeXpYp(hs.thetas[di], hs.phis[di], p)
			cell := (di*hs.npos+hs.bin(xp))*hs.npos + hs.bin(yp)
			hs.acc[cell] += weight
		}
	}
}

// bestGuess converts the accumulator cell with the most votes into a line in
// the original (untranslated) frame.
func (hs *houghSpace) bestGuess() Line {
	best := 0
	for i, v := range hs.acc {
		if v > hs.acc[best] {
			best = i
		}
	}
	di := best / (hs.npos * hs.npos)
	xi := (best / hs.npos) % hs.npos
	yi := best % hs.npos
	raw := Line{Theta: hs.thetas[di], Phi: hs.phis[di], Xp: hs.edges[xi], Yp: hs.edges[yi]}
	return raw.Translate(hs.translation)
}

// inlierIndices returns the indices of points strictly within dr of the line.
func inlierIndices(points []r3.Vec, line Line, dr float64) []int {
	var idx []int
	for i, p := range points {
		if line.DistanceTo(p) < dr {
			idx = append(idx, i)
		}
	}
	return idx
}

// refineLine least-squares fits a line to the points near the guess: anchor
// at the inlier centroid, direction along the principal eigenvector of the
// inlier covariance, flipped into the theta in [0, pi/2] convention. Fails
// when fewer than minFitPoints points are near the guess or the fitted
// direction is degenerate (in the x-y plane).
func refineLine(points []r3.Vec, guess Line, dr float64) (Line, bool) {
	near := inlierIndices(points, guess, dr)
	if len(near) < minFitPoints {
		return Line{}, false
	}

	data := mat.NewDense(len(near), 3, nil)
	var anchor r3.Vec
	for i, pi := range near {
		p := points[pi]
		data.SetRow(i, []float64{p.X, p.Y, p.Z})
		anchor = r3.Add(anchor, p)
	}
	anchor = r3.Scale(1/float64(len(near)), anchor)

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		return Line{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues are sorted ascending; the principal axis is the last column.
	dir := r3.Unit(r3.Vec{X: vecs.At(0, 2), Y: vecs.At(1, 2), Z: vecs.At(2, 2)})
	if math.Abs(dir.Z) < degeneracyEps {
		return Line{}, false
	}
	theta, phi := sphericalFromUnit(dir, true)
	return LineFromDirPoint(theta, phi, anchor), true
}

// fitCovariance estimates the 4x4 covariance of (theta, phi, anchor-x,
// anchor-y) from the inverse Hessian of the least-squares cost evaluated at
// the fitted line. Returns nil when the Hessian is singular, the inverse has
// a non-positive diagonal entry, or any entry is not finite.
func fitCovariance(points []r3.Vec, line Line) []float64 {
	anchor := line.AnchorAtZ0()
	x := []float64{line.Theta, line.Phi, anchor.X, anchor.Y}

	chi2 := func(x []float64) float64 {
		b := Line{Theta: x[0], Phi: x[1]}.Direction()
		a := r3.Vec{X: x[2], Y: x[3], Z: 0}
		var sum float64
		for _, p := range points {
			d := r3.Sub(a, p)
			perp := r3.Sub(d, r3.Scale(r3.Dot(b, d), b))
			sum += r3.Dot(perp, perp)
		}
		return sum
	}

	hess := mat.NewSymDense(4, nil)
	fd.Hessian(hess, chi2, x, nil)
	hess.ScaleSym(0.5, hess)

	var inv mat.Dense
	if err := inv.Inverse(hess); err != nil {
		return nil
	}
	out := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := inv.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil
			}
			out = append(out, v)
		}
	}
	for i := 0; i < 4; i++ {
		if out[i*4+i] <= 0 {
			return nil
		}
	}
	return out
}

// RunIterativeHough extracts straight lines from a point cloud. Each
// iteration takes the accumulator maximum as a guess, refines it by least
// squares, and accepts the refined line if it claims at least
// cfg.Threshold previously unclaimed inliers; the claimed contribution is
// then retracted from the accumulator and the search repeats. Any fit
// failure ends the extraction; no further lines are produced even if
// unclaimed points remain.
func RunIterativeHough(points []r3.Vec, cfg HoughConfig) []LineFit {
	if len(points) < minFitPoints || cfg.NDirections < 1 || cfg.NPositions < 1 {
		return nil
	}
	hs := newHoughSpace(points, cfg)
	claimed := make([]bool, len(points))
	var fits []LineFit

	for {
		guess := hs.bestGuess()
		line, ok := refineLine(points, guess, hs.dr)
		if !ok {
			return fits
		}
		inliers := inlierIndices(points, line, hs.dr)
		var fresh []int
		for _, i := range inliers {
			if !claimed[i] {
				fresh = append(fresh, i)
			}
		}
		if len(fresh) < cfg.Threshold {
			return fits
		}

		inlierPoints := make([]r3.Vec, len(inliers))
		for i, pi := range inliers {
			inlierPoints[i] = points[pi]
		}
		line.Cov = fitCovariance(inlierPoints, line)
		fits = append(fits, LineFit{Line: line, Inliers: inliers})

		hs.vote(fresh, -1)
		for _, i := range inliers {
			claimed[i] = true
		}
	}
}
