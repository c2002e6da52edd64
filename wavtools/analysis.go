package wavtools

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// AnalysisKind selects how a spectrum is binned.
type AnalysisKind string

const (
	// AnalysisFrequency returns one value per FFT bin.
	AnalysisFrequency AnalysisKind = "frequency"
	// AnalysisMusic returns one value per note from C1 to B8.
	AnalysisMusic AnalysisKind = "music"
	// AnalysisVoice returns the notes within the human voice range.
	AnalysisVoice AnalysisKind = "voice"
)

// Decibel range mapped onto [0, 1].
const (
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// AnalysisWindow is the number of recent samples a spectrum is computed over.
const AnalysisWindow = 2048

const (
	voiceMinHz = 32.0
	voiceMaxHz = 2000.0
)

// Spectrum is a normalized magnitude spectrum. Values are in [0, 1].
type Spectrum struct {
	Values []float64
	Labels []string
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

type note struct {
	hz    float64
	label string
}

var notes = func() []note {
	var out []note
	for octave := 1; octave <= 8; octave++ {
		for i, name := range noteNames {
			semitonesFromA4 := float64((octave-4)*12 + i - 9)
			out = append(out, note{
				hz:    440 * math.Pow(2, semitonesFromA4/12),
				label: fmt.Sprintf("%s%d", name, octave),
			})
		}
	}
	return out
}()

// Analyze computes the spectrum of samples (in [-1, 1]) recorded at sampleRate.
// An empty input yields an empty Spectrum.
func Analyze(samples []float64, sampleRate int, kind AnalysisKind, minDB, maxDB float64) Spectrum {
	n := len(samples)
	if n < 2 || sampleRate <= 0 || maxDB <= minDB {
		return Spectrum{}
	}

	windowed := window.Hann(append([]float64(nil), samples...))
	coeffs := fourier.NewFFT(n).Coefficients(nil, windowed)

	norm := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mag := math.Hypot(real(c), imag(c)) * 2 / float64(n)
		db := DefaultMinDecibels * 2
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		norm[i] = math.Max(0, math.Min(1, (db-minDB)/(maxDB-minDB)))
	}

	binHz := float64(sampleRate) / float64(n)
	switch kind {
	case AnalysisMusic, AnalysisVoice:
		return noteSpectrum(norm, binHz, kind == AnalysisVoice)
	default:
		labels := make([]string, len(norm))
		for i := range labels {
			labels[i] = fmt.Sprintf("%.0f", float64(i)*binHz)
		}
		return Spectrum{Values: norm, Labels: labels}
	}
}

// noteSpectrum takes, for each note, the loudest bin within half a semitone.
func noteSpectrum(norm []float64, binHz float64, voiceOnly bool) Spectrum {
	halfSemitone := math.Pow(2, 1.0/24)
	var s Spectrum
	for _, nt := range notes {
		if voiceOnly && (nt.hz < voiceMinHz || nt.hz > voiceMaxHz) {
			continue
		}
		lo := int(math.Ceil(nt.hz / halfSemitone / binHz))
		hi := int(math.Floor(nt.hz * halfSemitone / binHz))
		nearest := int(math.Round(nt.hz / binHz))
		if nearest >= len(norm) {
			break
		}
		v := norm[nearest]
		for i := max(lo, 0); i <= hi && i < len(norm); i++ {
			v = math.Max(v, norm[i])
		}
		s.Values = append(s.Values, v)
		s.Labels = append(s.Labels, nt.label)
	}
	return s
}

// sampleWindow keeps the most recent AnalysisWindow samples.
type sampleWindow struct {
	mu   sync.Mutex
	buf  []float64
	rate int
}

func (w *sampleWindow) push(samples []int16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range samples {
		w.buf = append(w.buf, float64(s)/0x8000)
	}
	if extra := len(w.buf) - AnalysisWindow; extra > 0 {
		w.buf = append(w.buf[:0], w.buf[extra:]...)
	}
}

func (w *sampleWindow) reset() {
	w.mu.Lock()
	w.buf = w.buf[:0]
	w.mu.Unlock()
}

func (w *sampleWindow) spectrum(kind AnalysisKind) Spectrum {
	w.mu.Lock()
	samples := append([]float64(nil), w.buf...)
	w.mu.Unlock()
	return Analyze(samples, w.rate, kind, DefaultMinDecibels, DefaultMaxDecibels)
}
