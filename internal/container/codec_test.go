package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivmlib-go/aivmlib/internal/schema"
	"github.com/aivmlib-go/aivmlib/internal/schema/schematest"
)

// build assembles a container from a raw header string and payload.
func build(header string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(header)+len(payload))
	binary.LittleEndian.PutUint64(out, uint64(len(header)))
	out = append(out, header...)
	return append(out, payload...)
}

func encodeFixture(t *testing.T) ([]byte, *schema.Metadata) {
	t.Helper()
	md := schematest.Metadata(t)
	out, err := Encode(schematest.Safetensors(), md)
	require.NoError(t, err)
	return out, md
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	out, md := encodeFixture(t)

	got, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, md.Manifest, got.Manifest)
	assert.Equal(t, md.StyleVectors, got.StyleVectors)

	hp := got.HyperParameters
	assert.Equal(t, "test-model", hp.ModelName)
	assert.Equal(t, "train.list", hp.Data.TrainingFiles)
	assert.Equal(t, "val.list", hp.Data.ValidationFiles)
	assert.Equal(t, []string{"Zundamon", "Anan"}, hp.Data.Spk2ID.Names())
	assert.Equal(t, []string{"ノーマル", "Happy", "Angry"}, hp.Data.Style2ID.Names())
	assert.JSONEq(t, string(md.HyperParameters.Extra["train"]), string(hp.Extra["train"]))
	assert.Equal(t, json.RawMessage("32768.0"), hp.Data.Extra["max_wav_value"])
}

func TestEncodeDoesNotMutateInputs(t *testing.T) {
	existing := schematest.Safetensors()
	before := append([]byte{}, existing...)
	md := schematest.Metadata(t)

	_, err := Encode(existing, md)
	require.NoError(t, err)

	assert.Equal(t, before, existing)
	assert.Equal(t, "Data/test-model/train.list", md.HyperParameters.Data.TrainingFiles)
	assert.Equal(t, []string{"Neutral", "Happy", "Angry"}, md.HyperParameters.Data.Style2ID.Names())
}

func TestEncodePreservesPayloadAndTensors(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 1000)
	existing := build(`{"a":{"dtype":"U8","shape":[3000],"data_offsets":[0,3000]},"__metadata__":{"format":"pt"}}`, payload)

	out, err := Encode(existing, schematest.Metadata(t))
	require.NoError(t, err)

	h, err := ReadHeader(out)
	require.NoError(t, err)
	assert.Equal(t, payload, h.Payload)
	assert.Equal(t, 0, h.Size%8)
	assert.Equal(t, 0, (8+h.Size)%8)
	assert.Equal(t, []string{"a"}, h.TensorNames())
	assert.JSONEq(t, `{"dtype":"U8","shape":[3000],"data_offsets":[0,3000]}`, string(h.Tensors["a"]))
	assert.Equal(t, "pt", h.Metadata["format"])
	assert.Contains(t, h.Metadata, ManifestKey)
	assert.Contains(t, h.Metadata, HyperParametersKey)
	assert.Contains(t, h.Metadata, StyleVectorsKey)
}

func TestEncodeIsIdempotent(t *testing.T) {
	out, _ := encodeFixture(t)

	md, err := Decode(out)
	require.NoError(t, err)
	again, err := Encode(out, md)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestEncodeReplacesExistingMetadata(t *testing.T) {
	out, md := encodeFixture(t)

	md.Manifest.Name = "second"
	md.Manifest.Speakers = md.Manifest.Speakers[1:]
	out2, err := Encode(out, md)
	require.NoError(t, err)

	got, err := Decode(out2)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Manifest.Name)
	assert.Equal(t, "second", got.HyperParameters.ModelName)
	assert.Equal(t, schema.IDMap{{Name: "Anan", ID: 1}}, got.HyperParameters.Data.Spk2ID)

	l1, err := Inspect(out)
	require.NoError(t, err)
	l2, err := Inspect(out2)
	require.NoError(t, err)
	assert.Equal(t, l1.PayloadDigest, l2.PayloadDigest)
}

func TestEncodeValidation(t *testing.T) {
	md := schematest.Metadata(t)
	md.Manifest.Speakers[0].Styles[0].LocalID = 32
	_, err := Encode(schematest.Safetensors(), md)
	assert.True(t, schema.IsValidationError(err))
	assert.False(t, IsFormatError(err))

	md = schematest.Metadata(t)
	md.StyleVectors = nil
	_, err = Encode(schematest.Safetensors(), md)
	assert.True(t, schema.IsValidationError(err))

	_, err = Encode([]byte{1, 2}, schematest.Metadata(t))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestEncodeStyleVectorsPresentButEmpty(t *testing.T) {
	md := schematest.Metadata(t)
	md.StyleVectors = []byte{}

	out, err := Encode(schematest.Safetensors(), md)
	require.NoError(t, err)

	got, err := Decode(out)
	require.NoError(t, err)
	assert.NotNil(t, got.StyleVectors)
	assert.Empty(t, got.StyleVectors)
}

func TestEncodeHeaderIsReadable(t *testing.T) {
	out, _ := encodeFixture(t)
	h, err := ReadHeader(out)
	require.NoError(t, err)

	// Markdown in free text is stored without HTML escaping.
	assert.Contains(t, h.Metadata[ManifestKey], "<for>")
	assert.NotContains(t, string(out[8:8+h.Size]), `\u003c`)
}

func TestDecodeErrors(t *testing.T) {
	manifest, err := schema.Marshal(schematest.Manifest())
	require.NoError(t, err)
	other := schematest.Manifest()
	other.ModelArchitecture = "GPT-SoVITS"
	foreign, err := schema.Marshal(other)
	require.NoError(t, err)
	metaHeader := func(meta map[string]string) string {
		data, err := json.Marshal(map[string]any{MetadataKey: meta})
		require.NoError(t, err)
		return string(data)
	}

	oversized := make([]byte, 16)
	binary.LittleEndian.PutUint64(oversized, MaxHeaderSize+1)

	tests := []struct {
		name  string
		input []byte
		kind  error
	}{
		{name: "empty", input: nil, kind: ErrTruncated},
		{name: "seven bytes", input: make([]byte, 7), kind: ErrTruncated},
		{name: "length past end", input: build("{}", nil)[:9], kind: ErrHeaderSize},
		{name: "length over limit", input: oversized, kind: ErrHeaderSize},
		{name: "not utf-8", input: build("{\"\xff\":1}", nil), kind: ErrNotContainer},
		{name: "not json", input: build("{", nil), kind: ErrNotContainer},
		{name: "json array", input: build("[]", nil), kind: ErrNotContainer},
		{name: "json null", input: build("null", nil), kind: ErrNotContainer},
		{name: "nested metadata", input: build(`{"__metadata__":{"a":{"b":1}}}`, nil), kind: ErrNotContainer},
		{name: "plain safetensors", input: schematest.Safetensors(), kind: ErrManifestNotFound},
		{name: "empty manifest", input: build(metaHeader(map[string]string{ManifestKey: ""}), nil), kind: ErrManifestNotFound},
		{name: "invalid manifest", input: build(metaHeader(map[string]string{ManifestKey: `{"name":"x"}`}), nil), kind: ErrInvalidManifest},
		{name: "unknown architecture", input: build(metaHeader(map[string]string{ManifestKey: string(foreign)}), nil), kind: ErrUnsupportedArchitecture},
		{name: "no hyperparameters", input: build(metaHeader(map[string]string{ManifestKey: string(manifest)}), nil), kind: ErrHyperParametersNotFound},
		{
			name:  "invalid hyperparameters",
			input: build(metaHeader(map[string]string{ManifestKey: string(manifest), HyperParametersKey: `{"model_name":"x"}`}), nil),
			kind:  ErrInvalidHyperParameters,
		},
		{
			name: "invalid style vectors",
			input: build(metaHeader(map[string]string{
				ManifestKey:        string(manifest),
				HyperParametersKey: schematest.HyperParametersJSON,
				StyleVectorsKey:    "not base64!",
			}), nil),
			kind: ErrInvalidStyleVectors,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.True(t, IsFormatError(err))
		})
	}
}

func TestDecodeInvalidManifestCarriesIssues(t *testing.T) {
	input := build(`{"__metadata__":{"aivm_manifest":"{\"manifest_version\":\"1.0\"}"}}`, nil)

	_, err := Decode(input)
	require.ErrorIs(t, err, ErrInvalidManifest)

	var ve *schema.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Greater(t, len(ve.Issues), 3)
}

func TestDecodeWithoutStyleVectors(t *testing.T) {
	manifest, err := schema.Marshal(schematest.Manifest())
	require.NoError(t, err)
	header, err := json.Marshal(map[string]any{MetadataKey: map[string]string{
		ManifestKey:        string(manifest),
		HyperParametersKey: schematest.HyperParametersJSON,
	}})
	require.NoError(t, err)

	md, err := Decode(build(string(header), []byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Nil(t, md.StyleVectors)
}

func TestReadHeaderBareSafetensors(t *testing.T) {
	h, err := ReadHeader(schematest.Safetensors())
	require.NoError(t, err)
	assert.Nil(t, h.Metadata)
	assert.Equal(t, []string{"weight"}, h.TensorNames())
	assert.Len(t, h.Payload, 8)
}

func TestEncodeBareSafetensorsWithPaddedHeader(t *testing.T) {
	existing := build(`{"w":{"dtype":"F32","shape":[1],"data_offsets":[0,4]}}    `, []byte{0, 0, 128, 63})

	out, err := Encode(existing, schematest.Metadata(t))
	require.NoError(t, err)

	h, err := ReadHeader(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 128, 63}, h.Payload)
}

func TestInspect(t *testing.T) {
	l, err := Inspect(schematest.Safetensors())
	require.NoError(t, err)
	assert.Equal(t, 1, l.TensorCount)
	assert.Equal(t, 8, l.PayloadSize)
	assert.Equal(t, []string{}, l.MetadataKeys)
	assert.False(t, l.HasAIVMMetadata())
	assert.Len(t, l.PayloadDigest, 64)

	out, _ := encodeFixture(t)
	l2, err := Inspect(out)
	require.NoError(t, err)
	assert.True(t, l2.HasAIVMMetadata())
	assert.Equal(t, l.PayloadDigest, l2.PayloadDigest)
	assert.Equal(t, []string{HyperParametersKey, ManifestKey, StyleVectorsKey}, l2.MetadataKeys)
}
