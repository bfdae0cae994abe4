package reco

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestFibonacciHemisphere(t *testing.T) {
	dirs := fibonacciHemisphere(500)
	require.NotEmpty(t, dirs)
	assert.InDelta(t, 500, len(dirs), 50, "should sample close to the requested count")
	for _, d := range dirs {
		assert.InDelta(t, 1.0, r3.Norm(d), 1e-12, "directions must be unit vectors")
		assert.GreaterOrEqual(t, d.Z, 0.0, "hemisphere directions must have z >= 0")
	}
}

func TestLineRoundTrip(t *testing.T) {
	theta := math.Acos(1 / math.Sqrt(3))
	phi := math.Pi / 4
	p := r3.Vec{X: 1.5, Y: -2.0, Z: 0.5}

	line := LineFromDirPoint(theta, phi, p)
	assert.InDelta(t, 0, line.DistanceTo(p), 1e-12, "constructed line must pass through its point")
	assert.InDelta(t, 1.0, r3.Norm(line.Direction()), 1e-12)

	// The perpendicular-plane intersection is on the line too.
	assert.InDelta(t, 0, line.DistanceTo(line.PointOnLine()), 1e-12)

	// The z = 0 anchor is on the line at z = 0.
	anchor := line.AnchorAtZ0()
	assert.InDelta(t, 0, anchor.Z, 1e-12)
	assert.InDelta(t, 0, line.DistanceTo(anchor), 1e-12)
}

func TestLineTranslate(t *testing.T) {
	line := LineFromDirPoint(0.8, 0.3, r3.Vec{X: 1, Y: 2, Z: 3})
	shift := r3.Vec{X: -4, Y: 0.5, Z: 2}
	moved := line.Translate(shift)

	assert.Equal(t, line.Theta, moved.Theta)
	assert.Equal(t, line.Phi, moved.Phi)
	p := r3.Add(line.PointOnLine(), shift)
	assert.InDelta(t, 0, moved.DistanceTo(p), 1e-9)
}

func TestSphericalFromUnitConstrained(t *testing.T) {
	down := r3.Unit(r3.Vec{X: 0.3, Y: -0.4, Z: -0.8})
	theta, phi := sphericalFromUnit(down, true)
	assert.LessOrEqual(t, theta, math.Pi/2, "constrained theta must be in [0, pi/2]")

	// The flipped direction is antiparallel to the input.
	v := Line{Theta: theta, Phi: phi}.Direction()
	assert.InDelta(t, -1.0, r3.Dot(v, down), 1e-12)
}

// collinearCloud builds n points along x = y = z plus a few far outliers.
func collinearCloud(n int) []r3.Vec {
	points := make([]r3.Vec, 0, n+3)
	for i := 0; i < n; i++ {
		f := float64(i)
		points = append(points, r3.Vec{X: f, Y: f, Z: f})
	}
	points = append(points,
		r3.Vec{X: 0, Y: 9, Z: 0},
		r3.Vec{X: 9, Y: 0, Z: 2},
		r3.Vec{X: 2, Y: 8, Z: 1},
	)
	return points
}

func TestIterativeHoughFindsLine(t *testing.T) {
	cfg := HoughConfig{Threshold: 5, NDirections: 1000, NPositions: 30, DR: 2.5}
	points := collinearCloud(10)

	fits := RunIterativeHough(points, cfg)
	require.Len(t, fits, 1, "one collinear cluster, one line")

	fit := fits[0]
	// Every collinear point claimed, no outliers.
	require.Len(t, fit.Inliers, 10)
	for _, idx := range fit.Inliers {
		assert.Less(t, idx, 10, "outlier claimed as inlier")
	}

	wantTheta := math.Acos(1 / math.Sqrt(3))
	assert.InDelta(t, wantTheta, fit.Line.Theta, 1e-6)
	assert.InDelta(t, math.Pi/4, fit.Line.Phi, 1e-6)
	for i := 0; i < 10; i++ {
		assert.InDelta(t, 0, fit.Line.DistanceTo(points[i]), 1e-6)
	}

	require.NotNil(t, fit.Line.Cov, "exact fit should produce a covariance estimate")
	require.Len(t, fit.Line.Cov, 16)
	for i := 0; i < 4; i++ {
		assert.Greater(t, fit.Line.Cov[i*4+i], 0.0, "covariance diagonal must be positive")
	}
}

func TestIterativeHoughBelowThreshold(t *testing.T) {
	cfg := HoughConfig{Threshold: 5, NDirections: 500, NPositions: 30, DR: 2.5}
	points := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 1},
		{X: 2, Y: 2, Z: 2},
		{X: 3, Y: 3, Z: 3},
	}
	fits := RunIterativeHough(points, cfg)
	assert.Empty(t, fits, "4 points cannot clear a threshold of 5")
}

func TestIterativeHoughDeterministic(t *testing.T) {
	cfg := HoughConfig{Threshold: 5, NDirections: 500, NPositions: 30, DR: 2.5}
	points := collinearCloud(8)

	first := RunIterativeHough(points, cfg)
	second := RunIterativeHough(points, cfg)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Inliers, second[i].Inliers)
		assert.Equal(t, first[i].Line.Theta, second[i].Line.Theta)
		assert.Equal(t, first[i].Line.Phi, second[i].Line.Phi)
	}
}

func TestIterativeHoughCovarianceRejected(t *testing.T) {
	// Points on the z axis fit a line with theta = 0, where phi has no
	// effect on the direction: the cost is flat in phi, the Hessian
	// singular, and the covariance must be dropped rather than crash or
	// reject the line itself.
	cfg := HoughConfig{Threshold: 5, NDirections: 500, NPositions: 30, DR: 2.5}
	points := make([]r3.Vec, 6)
	for i := range points {
		points[i] = r3.Vec{Z: float64(i)}
	}

	fits := RunIterativeHough(points, cfg)
	require.Len(t, fits, 1)
	assert.InDelta(t, 0, fits[0].Line.Theta, 1e-9)
	assert.Len(t, fits[0].Inliers, 6)
	assert.Nil(t, fits[0].Line.Cov, "singular Hessian must yield an absent covariance")
}

func TestIterativeHoughDegenerateInput(t *testing.T) {
	cfg := HoughConfig{Threshold: 3, NDirections: 100, NPositions: 10, DR: 1}
	assert.Empty(t, RunIterativeHough(nil, cfg))
	assert.Empty(t, RunIterativeHough([]r3.Vec{{X: 1}}, cfg))
}
