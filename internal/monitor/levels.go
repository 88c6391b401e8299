package monitor

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// silenceDB is reported for an all-zero chunk.
	silenceDB = -100.0
	// floorDB maps to an empty spectrum bar.
	floorDB = -80.0
)

// Levels summarizes one chunk.
type Levels struct {
	RMS  float64
	Peak float64
	DB   float64 // RMS in dBFS
}

// ComputeLevels returns RMS, peak and dBFS of samples.
func ComputeLevels(samples []float64) Levels {
	if len(samples) == 0 {
		return Levels{DB: silenceDB}
	}

	sumSquares := 0.0
	peak := 0.0
	for _, s := range samples {
		sumSquares += s * s
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))

	db := silenceDB
	if rms > 0.0000001 { // Avoid log(0)
		db = 20 * math.Log10(rms)
	}
	return Levels{RMS: rms, Peak: peak, DB: db}
}

// hannWindow returns samples multiplied by a Hann window and the window's sum.
func hannWindow(samples []float64) ([]float64, float64) {
	out := make([]float64, len(samples))
	if len(samples) == 1 {
		out[0] = samples[0]
		return out, 1
	}
	sum := 0.0
	for i, s := range samples {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(len(samples)-1)))
		out[i] = s * w
		sum += w
	}
	return out, sum
}

// Spectrum folds the magnitude spectrum of samples into bars values in [0, 1],
// lowest frequency first. Each bar shows the loudest bin in its range on a
// floorDB..0 dBFS scale.
func Spectrum(samples []float64, bars int) []float64 {
	out := make([]float64, bars)
	if bars <= 0 || len(samples) < 4 {
		return out
	}

	windowed, gain := hannWindow(samples)
	spectrum := fft.FFTReal(windowed)

	// Skip DC; only the first half is meaningful for real input.
	bins := spectrum[1 : len(spectrum)/2+1]
	for b := range out {
		lo := b * len(bins) / bars
		hi := (b + 1) * len(bins) / bars
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(bins) {
			hi = len(bins)
		}

		peak := 0.0
		for _, c := range bins[lo:hi] {
			if m := cmplx.Abs(c); m > peak {
				peak = m
			}
		}
		out[b] = scaleDB(2 * peak / gain)
	}
	return out
}

// PeakFrequency returns the frequency in Hz of the loudest non-DC bin.
func PeakFrequency(samples []float64, sampleRate int) float64 {
	if len(samples) < 4 || sampleRate <= 0 {
		return 0
	}
	windowed, _ := hannWindow(samples)
	spectrum := fft.FFTReal(windowed)

	best, bestMag := 0, 0.0
	for i := 1; i <= len(spectrum)/2; i++ {
		if m := cmplx.Abs(spectrum[i]); m > bestMag {
			best, bestMag = i, m
		}
	}
	return float64(best) * float64(sampleRate) / float64(len(spectrum))
}

// scaleDB maps a linear amplitude onto [0, 1] between floorDB and 0 dBFS.
func scaleDB(amp float64) float64 {
	if amp <= 0 {
		return 0
	}
	v := (20*math.Log10(amp) - floorDB) / -floorDB
	return math.Max(0, math.Min(1, v))
}
