// Package decode turns fetched bytes into resource handles.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	gojson "github.com/goccy/go-json"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/assetpipe/assetpipe/pkg/types"
)

// ErrMalformed is returned when bytes arrived but cannot be decoded.
var ErrMalformed = errors.New("malformed resource")

// Image decodes png, jpeg, gif, bmp and webp headers into *types.Image.
// Only the header is parsed; the encoded bytes ride along in Data.
type Image struct{}

// Decode implements types.Decoder
func (Image) Decode(url string, data []byte) (any, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: image %s: %v", ErrMalformed, url, err)
	}
	return &types.Image{
		Src:    url,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Data:   data,
	}, nil
}

// Data decodes structured JSON into generic values (map[string]any,
// []any, float64, string, bool, nil).
type Data struct{}

// Decode implements types.Decoder
func (Data) Decode(url string, data []byte) (any, error) {
	var v any
	if err := gojson.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: json %s: %v", ErrMalformed, url, err)
	}
	return v, nil
}

// Audio recognizes the container from its header and wraps the bytes in
// *types.Audio. Decoding to PCM belongs to the audio system.
type Audio struct{}

// Decode implements types.Decoder
func (Audio) Decode(url string, data []byte) (any, error) {
	format := SniffAudio(data)
	if format == "" {
		return nil, fmt.Errorf("%w: audio %s: unrecognized container", ErrMalformed, url)
	}
	return &types.Audio{Src: url, Format: format, Data: data}, nil
}

// SniffAudio returns wav, ogg, mp3, flac or webm, or "" when unknown.
func SniffAudio(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return "mp3"
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	default:
		return ""
	}
}
