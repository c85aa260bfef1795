// Package entropy implements the file-modification-entropy side of the
// detector: Shannon entropy over sampled segments, a chi-square
// uniformity statistic, and a confidence score that combines them.
package entropy

import (
	"errors"
	"math"
	"time"
)

// ErrAnalysisUnavailable marks files that produced no usable sample:
// empty, vanished before the read, or unreadable. Callers treat it as
// an absent signal, never as a zero-entropy observation.
var ErrAnalysisUnavailable = errors.New("entropy analysis unavailable")

const (
	// Segment size bounds for sampled reads. A segment is 10% of the
	// file size clamped into this range.
	MinSegmentSize = 256
	MaxSegmentSize = 2048

	// Chi-square inputs larger than this are decimated to roughly
	// chiSampleTarget bytes before binning.
	chiSampleAbove  = 10000
	chiSampleTarget = 5000

	// Partial-encryption shape: high spread across segments with at
	// least one near-random and one near-plaintext segment.
	spreadVarianceMin = 2.0
	spreadRangeMin    = 4.0
	spreadHighSegment = 6.5
	spreadLowSegment  = 3.0

	weightMeanEntropy = 0.4
	weightChiSquare   = 0.2
	weightLowVariance = 0.2
	weightPartialEnc  = 0.5
)

// Params carries the tunable cutoffs for one analysis. Callers supply a
// snapshot of the current thresholds so a concurrent config swap cannot
// mix old and new values within a single sample.
type Params struct {
	EntropyThreshold   float64
	VarianceThreshold  float64
	ChiSquareThreshold float64
}

// Sample is the outcome of analyzing one file's sampled content.
type Sample struct {
	Path       string    `json:"path"`
	Timestamp  time.Time `json:"timestamp"`
	Segments   []float64 `json:"segments"`
	Mean       float64   `json:"mean"`
	Variance   float64   `json:"variance"`
	ChiSquare  float64   `json:"chi_square"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons,omitempty"`
}

// SegmentSize returns the sampling segment length for a file of the
// given size: 10% of the file clamped to [MinSegmentSize, MaxSegmentSize].
func SegmentSize(fileSize int64) int {
	seg := fileSize / 10
	if seg < MinSegmentSize {
		return MinSegmentSize
	}
	if seg > MaxSegmentSize {
		return MaxSegmentSize
	}
	return int(seg)
}

// Shannon returns the byte entropy of buf in bits per byte, in [0, 8].
func Shannon(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range buf {
		counts[b]++
	}
	n := float64(len(buf))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// ChiSquare returns the chi-square statistic of buf against a uniform
// byte distribution. Uniformly random data scores near the degrees of
// freedom (255); structured data scores orders of magnitude higher.
// Large inputs are decimated by a fixed stride first.
func ChiSquare(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}
	sample := buf
	if len(buf) > chiSampleAbove {
		step := len(buf) / chiSampleTarget
		decimated := make([]byte, 0, chiSampleTarget+1)
		for i := 0; i < len(buf); i += step {
			decimated = append(decimated, buf[i])
		}
		sample = decimated
	}
	var counts [256]int
	for _, b := range sample {
		counts[b]++
	}
	expected := float64(len(sample)) / 256.0
	chi := 0.0
	for _, c := range counts {
		d := float64(c) - expected
		chi += d * d / expected
	}
	return chi
}

// Analyze splits buf into segmentSize chunks, computes per-segment
// entropy plus a whole-buffer chi-square, and scores the result against
// p. A buffer shorter than one segment yields a single segment covering
// the whole buffer. Empty buffers return ErrAnalysisUnavailable.
func Analyze(path string, buf []byte, segmentSize int, p Params) (*Sample, error) {
	if len(buf) == 0 {
		return nil, ErrAnalysisUnavailable
	}
	if segmentSize <= 0 {
		segmentSize = SegmentSize(int64(len(buf)))
	}

	var segments []float64
	for off := 0; off < len(buf); off += segmentSize {
		end := off + segmentSize
		if end > len(buf) {
			end = len(buf)
		}
		segments = append(segments, Shannon(buf[off:end]))
	}

	mean, variance := meanVariance(segments)
	minSeg, maxSeg := segments[0], segments[0]
	for _, s := range segments[1:] {
		if s < minSeg {
			minSeg = s
		}
		if s > maxSeg {
			maxSeg = s
		}
	}
	chi := ChiSquare(buf)

	confidence, reasons := score(mean, variance, minSeg, maxSeg, chi, p)
	return &Sample{
		Path:       path,
		Timestamp:  time.Now().UTC(),
		Segments:   segments,
		Mean:       mean,
		Variance:   variance,
		ChiSquare:  chi,
		Confidence: confidence,
		Reasons:    reasons,
	}, nil
}

// score combines the individual signals into a confidence in [0, 1].
// Each contribution is a step on a threshold, so raising mean entropy
// or the chi-square statistic never lowers confidence.
func score(mean, variance, minSeg, maxSeg, chi float64, p Params) (float64, []string) {
	conf := 0.0
	var reasons []string

	if mean >= p.EntropyThreshold {
		conf += weightMeanEntropy
		reasons = append(reasons, "high_mean_entropy")
	}
	if chi >= p.ChiSquareThreshold {
		conf += weightChiSquare
		reasons = append(reasons, "chi_square_anomaly")
	}
	if variance < p.VarianceThreshold {
		conf += weightLowVariance
		reasons = append(reasons, "uniform_segments")
	}
	if variance > spreadVarianceMin &&
		(maxSeg-minSeg > spreadRangeMin || (maxSeg > spreadHighSegment && minSeg < spreadLowSegment)) {
		conf += weightPartialEnc
		reasons = append(reasons, "partial_encryption")
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf, reasons
}

func meanVariance(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	sq := 0.0
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, sq / float64(len(vals))
}
