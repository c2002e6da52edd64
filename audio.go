package rtconsole

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultChunkMS is the recommended chunk size for streaming audio.
const DefaultChunkMS = 100

// maxAppendBytes bounds a single input_audio_buffer.append payload.
const maxAppendBytes = 1024 * 1024

// AppendInputAudio sends PCM16 mono 24kHz samples to the input buffer and keeps
// a local copy so push-to-talk commits and server VAD speech can be sliced from it.
func (c *Client) AppendInputAudio(ctx context.Context, samples []int16) error {
	if ctx == nil {
		return NewSendError("input_audio_buffer.append", "", errors.New("context cannot be nil"))
	}
	if len(samples) == 0 {
		return nil
	}
	if len(samples)*2 > maxAppendBytes {
		return NewSendError("input_audio_buffer.append", "",
			fmt.Errorf("PCM data too large (%d bytes), maximum is %d bytes", len(samples)*2, maxAppendBytes))
	}

	if err := c.send(ctx, "input_audio_buffer.append", map[string]any{
		"audio": EncodePCM16Base64(samples),
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.inputAudio = append(c.inputAudio, samples...)
	c.mu.Unlock()
	return nil
}

// AppendPCM16 is AppendInputAudio for little-endian PCM16 bytes.
func (c *Client) AppendPCM16(ctx context.Context, pcmLE []byte) error {
	if len(pcmLE)%2 != 0 {
		return NewSendError("input_audio_buffer.append", "", errors.New("PCM16 data must have even number of bytes"))
	}
	return c.AppendInputAudio(ctx, BytesToPCM16(pcmLE))
}

// InputCommit commits the input buffer as a user item.
func (c *Client) InputCommit(ctx context.Context) error {
	c.mu.Lock()
	pending := c.inputAudio
	c.inputAudio = nil
	c.mu.Unlock()

	if err := c.send(ctx, "input_audio_buffer.commit", nil); err != nil {
		return err
	}
	if len(pending) > 0 {
		c.conv.QueueInputAudio(pending)
	}
	return nil
}

// InputClear discards the input buffer on both ends.
func (c *Client) InputClear(ctx context.Context) error {
	c.mu.Lock()
	c.inputAudio = nil
	c.mu.Unlock()
	return c.send(ctx, "input_audio_buffer.clear", nil)
}

// PCM16ToBytes encodes samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 decodes little-endian bytes. A trailing odd byte is dropped.
func BytesToPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// EncodePCM16Base64 renders samples the way the wire protocol carries audio.
func EncodePCM16Base64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(PCM16ToBytes(samples))
}

// DecodePCM16Base64 is the inverse of EncodePCM16Base64.
func DecodePCM16Base64(s string) ([]int16, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return BytesToPCM16(b), nil
}

// WAVFromPCM16Mono wraps raw little-endian PCM16 mono data in a WAV header.
func WAVFromPCM16Mono(pcm []byte, sampleRate int) []byte {
	blockAlign := uint16(2)
	byteRate := uint32(sampleRate) * uint32(blockAlign)
	dataLen := uint32(len(pcm))
	out := make([]byte, 44+len(pcm))

	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], 36+dataLen)
	copy(out[8:], "WAVE")

	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:], 1)  // mono
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], byteRate)
	binary.LittleEndian.PutUint16(out[32:], blockAlign)
	binary.LittleEndian.PutUint16(out[34:], 16) // bits per sample

	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], dataLen)
	copy(out[44:], pcm)
	return out
}

// WAVFromSamples is WAVFromPCM16Mono for conversation audio.
func WAVFromSamples(samples []int16) []byte {
	return WAVFromPCM16Mono(PCM16ToBytes(samples), DefaultFrequency)
}

// PCM16BytesFor returns the byte length of ms milliseconds of PCM16 mono audio.
func PCM16BytesFor(ms int, sampleRate int) int { return (ms * sampleRate * 2) / 1000 }

// TrackOffset identifies where playback of a track was interrupted.
// Offset counts samples at DefaultFrequency; pass it to CancelResponse together
// with TrackID, which is the id of the assistant item being played.
type TrackOffset struct {
	TrackID     string
	Offset      int
	CurrentTime float64 // seconds
}
