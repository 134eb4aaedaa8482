package audio

import (
	"fmt"
	"math"

	"github.com/zaf/g711"
)

// ConvertPCMToPCMU converts linear PCM audio to G.711 PCMU (μ-law) format
// Input: PCM audio data (16-bit signed integers, little-endian)
// Output: PCMU (μ-law) encoded audio data
func ConvertPCMToPCMU(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}

	// Step 1: Convert bytes to 16-bit signed integers (little-endian)
	// Assuming PCM is 16-bit signed integers
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		// Little-endian 16-bit signed integer
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}

	// Step 2: Resample if needed (24kHz → 8kHz)
	if inputSampleRate != outputSampleRate {
		samples = resample(samples, inputSampleRate, outputSampleRate)
	}

	// Step 3: Convert to μ-law (G.711 PCMU) via the g711 library, not a
	// hand-rolled codec — back to bytes (little-endian) first since
	// g711.EncodeUlaw takes raw PCM bytes, not []int16.
	pcmBytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		pcmBytes[i*2] = byte(sample)
		pcmBytes[i*2+1] = byte(sample >> 8)
	}

	return g711.EncodeUlaw(pcmBytes), nil
}

// resample performs simple linear interpolation resampling
// This is a basic implementation - for production, consider using a library
// with better quality algorithms (e.g., sinc interpolation)
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		// Calculate source position
		srcPos := float64(i) / ratio

		// Linear interpolation
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		// Interpolate between two samples
		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// ConvertPCMUToPCM converts G.711 PCMU (μ-law) to linear PCM via the
// g711 library's decoder. Useful for debugging or for feeding inbound
// telephony audio into RMS/VAD processing.
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}
	return g711.DecodeUlaw(pcmuData), nil
}

// NormalizeAudio normalizes audio samples to prevent clipping
func NormalizeAudio(samples []int16, maxAmplitude int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	// Find maximum amplitude
	maxVal := int16(0)
	for _, sample := range samples {
		abs := sample
		if abs < 0 {
			abs = -abs
		}
		if abs > maxVal {
			maxVal = abs
		}
	}

	// If already within range, return as-is
	if maxVal <= maxAmplitude {
		return samples
	}

	// Normalize
	ratio := float64(maxAmplitude) / float64(maxVal)
	normalized := make([]int16, len(samples))
	for i, sample := range samples {
		normalized[i] = int16(float64(sample) * ratio)
	}

	return normalized
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

