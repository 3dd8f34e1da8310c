package schema

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/abema/go-mp4"
	"github.com/go-audio/wav"
)

// DataURL is a decoded RFC 2397 data URL with a Base64 payload.
type DataURL struct {
	MediaType string
	Data      []byte
}

var (
	errNotDataURL    = errors.New("must be a data URL with a base64 payload")
	errEmptyDataURL  = errors.New("data URL payload is empty")
	pngSignature     = []byte("\x89PNG\r\n\x1a\n")
	jpegSignature    = []byte{0xFF, 0xD8, 0xFF}
	imageMediaTypes  = []string{"image/png", "image/jpeg"}
	wavMediaTypes    = []string{"audio/wav", "audio/wave", "audio/x-wav"}
	m4aMediaTypes    = []string{"audio/mp4", "audio/m4a", "audio/x-m4a"}
	wavePCMFormat    = uint16(1)
	waveExtensible   = uint16(0xFFFE)
	pcm16BitsPerSamp = uint16(16)
	mpeg4AudioOTI    = byte(0x40)
	aacLCObjectType  = 2
)

var esdsPath = mp4.BoxPath{
	mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeMdia(), mp4.BoxTypeMinf(),
	mp4.BoxTypeStbl(), mp4.BoxTypeStsd(), mp4.BoxTypeMp4a(), mp4.BoxTypeEsds(),
}

// ParseDataURL decodes a data URL of the form "data:<type>[;param]*;base64,<payload>".
func ParseDataURL(s string) (*DataURL, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, errNotDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errNotDataURL
	}
	params := strings.Split(header, ";")
	if len(params) < 2 || params[len(params)-1] != "base64" {
		return nil, errNotDataURL
	}
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if mediaType == "" {
		return nil, errNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	if len(data) == 0 {
		return nil, errEmptyDataURL
	}
	return &DataURL{MediaType: mediaType, Data: data}, nil
}

// EncodeDataURL builds a Base64 data URL.
func EncodeDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ValidateImageDataURL accepts PNG or JPEG images.
func ValidateImageDataURL(s string) error {
	u, err := ParseDataURL(s)
	if err != nil {
		return err
	}
	switch u.MediaType {
	case "image/png":
		if !bytes.HasPrefix(u.Data, pngSignature) {
			return errors.New("image/png payload is not a PNG image")
		}
	case "image/jpeg":
		if !bytes.HasPrefix(u.Data, jpegSignature) {
			return errors.New("image/jpeg payload is not a JPEG image")
		}
	default:
		return fmt.Errorf("media type %q is not one of %s", u.MediaType, strings.Join(imageMediaTypes, ", "))
	}
	return nil
}

// ValidateAudioDataURL accepts WAV (16-bit PCM) or M4A audio.
func ValidateAudioDataURL(s string) error {
	u, err := ParseDataURL(s)
	if err != nil {
		return err
	}
	switch {
	case slices.Contains(wavMediaTypes, u.MediaType):
		return checkPCM16Wave(u.Data)
	case slices.Contains(m4aMediaTypes, u.MediaType):
		return checkM4A(u.Data)
	}
	return fmt.Errorf("media type %q is not a WAV or M4A audio type", u.MediaType)
}

// checkPCM16Wave reads the WAVE fmt chunk and requires 16-bit PCM samples.
func checkPCM16Wave(data []byte) error {
	d := wav.NewDecoder(bytes.NewReader(data))
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return fmt.Errorf("audio payload is not a RIFF/WAVE file: %w", err)
	}
	if d.NumChans == 0 {
		return errors.New("WAVE file has no fmt chunk")
	}
	if (d.WavAudioFormat != wavePCMFormat && d.WavAudioFormat != waveExtensible) || d.BitDepth != pcm16BitsPerSamp {
		return fmt.Errorf("WAVE audio must be 16-bit PCM (format %d, %d bits)", d.WavAudioFormat, d.BitDepth)
	}
	return nil
}

// checkM4A requires an ftyp box and an mp4a sample entry whose esds
// describes MPEG-4 AAC-LC.
func checkM4A(data []byte) error {
	ftyp, err := mp4.ExtractBox(bytes.NewReader(data), nil, mp4.BoxPath{mp4.BoxTypeFtyp()})
	if err != nil || len(ftyp) == 0 {
		return errors.New("audio payload is not an MP4/M4A file")
	}
	boxes, err := mp4.ExtractBoxWithPayload(bytes.NewReader(data), nil, esdsPath)
	if err != nil {
		return fmt.Errorf("M4A file is malformed: %w", err)
	}
	if len(boxes) == 0 {
		return errors.New("M4A file has no mp4a audio track")
	}
	esds, ok := boxes[0].Payload.(*mp4.Esds)
	if !ok {
		return errors.New("M4A file has no esds box")
	}
	var oti byte
	aot := -1
	for _, desc := range esds.Descriptors {
		switch {
		case desc.Tag == mp4.DecoderConfigDescrTag && desc.DecoderConfigDescriptor != nil:
			oti = desc.DecoderConfigDescriptor.ObjectTypeIndication
		case desc.Tag == mp4.DecSpecificInfoTag:
			aot = audioObjectType(desc.Data)
		}
	}
	if oti != mpeg4AudioOTI {
		return fmt.Errorf("M4A audio must be MPEG-4 AAC (object type indication 0x%02x)", oti)
	}
	if aot != aacLCObjectType {
		return fmt.Errorf("M4A audio must be AAC-LC (audio object type %d)", aot)
	}
	return nil
}

// audioObjectType reads the object type from an AudioSpecificConfig.
func audioObjectType(asc []byte) int {
	if len(asc) == 0 {
		return -1
	}
	aot := int(asc[0] >> 3)
	if aot == 31 {
		if len(asc) < 2 {
			return -1
		}
		aot = 32 + (int(asc[0]&0x07)<<3 | int(asc[1]>>5))
	}
	return aot
}
