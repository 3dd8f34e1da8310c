// Package schematest provides metadata fixtures for tests.
package schematest

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"

	"github.com/aivmlib-go/aivmlib/internal/schema"
)

// HyperParametersJSON is a trimmed Style-Bert-VITS2 JP-Extra config.json. The
// speaker order is deliberately not alphabetical.
const HyperParametersJSON = `{
  "model_name": "test-model",
  "train": {"log_interval": 200, "eval_interval": 1000, "seed": 42, "epochs": 100, "learning_rate": 0.0001, "batch_size": 2, "bf16_run": false},
  "data": {
    "use_jp_extra": true,
    "training_files": "Data/test-model/train.list",
    "validation_files": "Data/test-model/val.list",
    "max_wav_value": 32768.0,
    "sampling_rate": 44100,
    "filter_length": 2048,
    "hop_length": 512,
    "win_length": 2048,
    "n_mel_channels": 128,
    "mel_fmin": 0.0,
    "mel_fmax": null,
    "add_blank": true,
    "n_speakers": 2,
    "cleaned_text": true,
    "spk2id": {"Zundamon": 0, "Anan": 1},
    "num_styles": 3,
    "style2id": {"Neutral": 0, "Happy": 1, "Angry": 2}
  },
  "model": {"use_spk_conditioned_encoder": true, "inter_channels": 192, "hidden_channels": 192, "n_layers": 6},
  "version": "2.4.1-JP-Extra"
}`

// StyleVectors stands in for a style_vectors.npy file.
var StyleVectors = []byte("\x93NUMPY\x01\x00v\x00{'descr': '<f4', 'fortran_order': False, 'shape': (3, 256), }")

// Fixed identifiers used by Manifest.
var (
	ModelUUID    = uuid.MustParse("5b2e1d7c-3f6a-4c1e-9d8b-2a7f0e4c6b13")
	SpeakerUUIDs = []uuid.UUID{
		uuid.MustParse("0f3c8a21-7e44-4b9d-a1c6-58d2e9b07f35"),
		uuid.MustParse("c7a94e06-12bd-4f38-8e5a-9b61d3f0a247"),
	}
)

// HyperParameters parses HyperParametersJSON.
func HyperParameters(t testing.TB) *schema.HyperParameters {
	t.Helper()
	hp, err := schema.ParseHyperParameters([]byte(HyperParametersJSON))
	if err != nil {
		t.Fatalf("parse hyperparameters fixture: %v", err)
	}
	return hp
}

// Manifest returns a valid manifest consistent with HyperParametersJSON.
func Manifest() *schema.Manifest {
	epochs, steps := 100, 12000
	styles := func() []schema.Style {
		return []schema.Style{
			{
				Name:    schema.NeutralStyleDisplayName,
				LocalID: 0,
				VoiceSamples: []schema.VoiceSample{
					{Audio: WAVDataURL(), Transcript: "こんにちは"},
				},
			},
			{Name: "Happy", LocalID: 1, VoiceSamples: []schema.VoiceSample{}},
			{Name: "Angry", LocalID: 2, VoiceSamples: []schema.VoiceSample{}},
		}
	}
	return &schema.Manifest{
		ManifestVersion:   schema.ManifestVersion,
		Name:              "test-model",
		Description:       "A **test** model <for> fixtures",
		Creators:          []string{"aivm"},
		TermsOfUse:        "",
		ModelArchitecture: schema.ModelArchitectureStyleBertVITS2JPExtra,
		ModelFormat:       schema.ModelFormatSafetensors,
		TrainingEpochs:    &epochs,
		TrainingSteps:     &steps,
		UUID:              ModelUUID,
		Version:           "1.0.0",
		Speakers: []schema.Speaker{
			{
				Name:               "Zundamon",
				Icon:               schema.DefaultIconDataURL,
				SupportedLanguages: []string{"ja"},
				UUID:               SpeakerUUIDs[0],
				LocalID:            0,
				Styles:             styles(),
			},
			{
				Name:               "Anan",
				Icon:               schema.DefaultIconDataURL,
				SupportedLanguages: []string{"ja"},
				UUID:               SpeakerUUIDs[1],
				LocalID:            1,
				Styles:             styles(),
			},
		},
	}
}

// Metadata returns a complete, valid bundle.
func Metadata(t testing.TB) *schema.Metadata {
	t.Helper()
	return &schema.Metadata{
		Manifest:        Manifest(),
		HyperParameters: HyperParameters(t),
		StyleVectors:    append([]byte{}, StyleVectors...),
	}
}

// WAV builds a minimal RIFF/WAVE file with the given format tag and bit depth.
func WAV(format, bits uint16) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	b.WriteString("RIFF")
	_ = binary.Write(&b, le, uint32(40))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, le, uint32(16))
	_ = binary.Write(&b, le, format)
	_ = binary.Write(&b, le, uint16(1))
	_ = binary.Write(&b, le, uint32(44100))
	_ = binary.Write(&b, le, uint32(44100)*uint32(bits/8))
	_ = binary.Write(&b, le, bits/8)
	_ = binary.Write(&b, le, bits)
	b.WriteString("data")
	_ = binary.Write(&b, le, uint32(4))
	b.Write([]byte{0, 0, 0, 0})
	return b.Bytes()
}

// WAVDataURL returns a 16-bit PCM WAV as a data URL.
func WAVDataURL() string {
	return schema.EncodeDataURL("audio/wav", WAV(1, 16))
}

// M4A builds a minimal MP4 audio file with one mp4a track. audioObjectType
// goes into the AudioSpecificConfig; 2 is AAC-LC.
func M4A(audioObjectType byte) []byte {
	be := binary.BigEndian
	box := func(typ string, body ...[]byte) []byte {
		size := 8
		for _, b := range body {
			size += len(b)
		}
		out := be.AppendUint32(nil, uint32(size))
		out = append(out, typ...)
		for _, b := range body {
			out = append(out, b...)
		}
		return out
	}

	mp4a := make([]byte, 0, 28)
	mp4a = append(mp4a, 0, 0, 0, 0, 0, 0)   // reserved
	mp4a = be.AppendUint16(mp4a, 1)         // data reference index
	mp4a = append(mp4a, make([]byte, 8)...) // version and reserved
	mp4a = be.AppendUint16(mp4a, 1)         // channels
	mp4a = be.AppendUint16(mp4a, 16)        // sample size
	mp4a = append(mp4a, 0, 0, 0, 0)         // pre-defined and reserved
	mp4a = be.AppendUint32(mp4a, 44100<<16)

	esds := []byte{
		0, 0, 0, 0,                                            // version and flags
		0x03, 25, 0, 1, 0,                                     // ES_Descriptor
		0x04, 17, 0x40, 0x15, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // DecoderConfigDescriptor
		0x05, 2, audioObjectType<<3 | 0x02, 0x08,              // AudioSpecificConfig
		0x06, 1, 0x02,                                         // SLConfigDescriptor
	}

	stsd := box("stsd", []byte{0, 0, 0, 0, 0, 0, 0, 1}, box("mp4a", mp4a, box("esds", esds)))
	moov := box("moov", box("trak", box("mdia", box("minf", box("stbl", stsd)))))
	ftyp := box("ftyp", []byte("M4A \x00\x00\x00\x00M4A isom"))
	return append(ftyp, moov...)
}

// Safetensors builds a plain Safetensors file with one tensor and no metadata.
func Safetensors() []byte {
	header := []byte(`{"weight":{"dtype":"F32","shape":[2],"data_offsets":[0,8]}}`)
	out := make([]byte, 8, 8+len(header)+8)
	binary.LittleEndian.PutUint64(out, uint64(len(header)))
	out = append(out, header...)
	return append(out, 0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0x40)
}
