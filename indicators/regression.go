package indicators

import (
	"errors"
	"math"
)

var ErrInsufficientData = errors.New("insufficient data")

// Line is a least-squares linear fit y = Slope*x + Intercept.
type Line struct {
	Slope     float64
	Intercept float64
	// Residual is the root-mean-square distance of the samples from the line.
	Residual float64
	N        int
}

func (l Line) At(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// Fit computes the ordinary least-squares line through (x, y).
func Fit(x, y []float64) (Line, error) {
	n := len(x)
	if n != len(y) {
		return Line{}, errors.New("mismatched sample lengths")
	}
	if n < 2 {
		return Line{}, ErrInsufficientData
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxx, sxy float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		sxx += dx * dx
		sxy += dx * (y[i] - meanY)
	}
	if sxx == 0 {
		return Line{}, ErrInsufficientData
	}

	line := Line{N: n}
	line.Slope = sxy / sxx
	line.Intercept = meanY - line.Slope*meanX

	var ss float64
	for i := 0; i < n; i++ {
		r := y[i] - line.At(x[i])
		ss += r * r
	}
	line.Residual = math.Sqrt(ss / float64(n))
	return line, nil
}

// FitCloses fits the closes of bars (newest first) against their age in seconds relative to
// the newest bar, so At(0) is the regression value at the newest bar.
func FitCloses(bars []Bar) (Line, error) {
	if len(bars) < 2 {
		return Line{}, ErrInsufficientData
	}
	x := make([]float64, len(bars))
	y := make([]float64, len(bars))
	origin := bars[0].Time
	for i, b := range bars {
		x[i] = b.Time.Sub(origin).Seconds()
		y[i] = b.Close
	}
	return Fit(x, y)
}

// Slope fits the HLC mean of xdelta bars starting at index bar and returns the slope per second.
func Slope(bars []Bar, xdelta, bar int) float64 {
	if bar+xdelta >= len(bars) {
		return math.NaN()
	}
	window := bars[bar : bar+xdelta]
	x := make([]float64, len(window))
	y := make([]float64, len(window))
	origin := window[0].Time
	for i, b := range window {
		x[i] = b.Time.Sub(origin).Seconds()
		y[i] = (b.High + b.Low + b.Close) / 3
	}
	line, err := Fit(x, y)
	if err != nil {
		return math.NaN()
	}
	return line.Slope
}

// TrueRange returns the true range of the bar at index bar against the prior close.
func TrueRange(bars []Bar, bar int) float64 {
	if bar >= len(bars)-1 {
		return math.NaN()
	}
	priorClose := bars[bar+1].Close
	high := bars[bar].High
	low := bars[bar].Low
	return math.Max(high-low, math.Max(high-priorClose, priorClose-low))
}
