package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/tableview/internal/model"
)

func samplePlan() *model.CompactionPlan {
	return &model.CompactionPlan{
		Operations: []model.CompactionOperation{
			{
				PartitionPath:   "2024/01/01",
				FileID:          "fg-1",
				BaseInstantTime: "001",
				DataFilePath:    "2024/01/01/fg-1_1-0-1_001.parquet",
				DeltaFilePaths:  []string{"2024/01/01/.fg-1_001.log.1_1-0-1"},
			},
		},
		Version: 2,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	instant := model.NewInstant(model.StateRequested, model.ActionCompaction, "002")

	for _, compression := range []CompressionType{CompressionNone, CompressionZstd, CompressionSnappy, CompressionLZ4} {
		t.Run(compression.String(), func(t *testing.T) {
			codec, err := NewCodec(compression)
			require.NoError(t, err)

			payload, err := codec.Encode(samplePlan())
			require.NoError(t, err)
			assert.Equal(t, byte(compression), payload[3])

			decoded, err := codec.Decode(instant, payload)
			require.NoError(t, err)
			assert.Equal(t, samplePlan(), decoded)
		})
	}
}

func TestCodecReadsAnyCompression(t *testing.T) {
	writer, err := NewCodec(CompressionZstd)
	require.NoError(t, err)
	reader, err := NewCodec(CompressionNone)
	require.NoError(t, err)

	payload, err := writer.Encode(samplePlan())
	require.NoError(t, err)

	decoded, err := reader.Decode(model.NewInstant(model.StateInflight, model.ActionLogCompaction, "002"), payload)
	require.NoError(t, err)
	assert.Equal(t, samplePlan(), decoded)
}

func TestCodecDecodePlainJSON(t *testing.T) {
	codec, err := NewCodec(CompressionNone)
	require.NoError(t, err)

	payload := []byte(`{"instants_rollback":[{"timestamp":"003","action":"deltacommit"}]}`)
	decoded, err := codec.Decode(model.NewInstant(model.StateCompleted, model.ActionRollback, "004"), payload)
	require.NoError(t, err)

	rb, ok := decoded.(*model.RollbackMetadata)
	require.True(t, ok)
	assert.Equal(t, model.InstantInfo{Timestamp: "003", Action: model.ActionDeltaCommit}, rb.Target())
}

func TestCodecEmptyPayload(t *testing.T) {
	codec, err := NewCodec(CompressionSnappy)
	require.NoError(t, err)

	payload, err := codec.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, payload)

	decoded, err := codec.Decode(model.NewInstant(model.StateInflight, model.ActionCommit, "001"), payload)
	require.NoError(t, err)
	assert.Equal(t, &model.CommitMetadata{}, decoded)
}

func TestCodecRejectsCorruptPayload(t *testing.T) {
	codec, err := NewCodec(CompressionLZ4)
	require.NoError(t, err)

	payload, err := codec.Encode(samplePlan())
	require.NoError(t, err)
	payload[len(payload)/2] ^= 0xFF

	_, err = codec.Decode(model.NewInstant(model.StateRequested, model.ActionCompaction, "002"), payload)
	assert.Error(t, err)

	_, err = codec.Decode(model.NewInstant(model.StateRequested, model.ActionCompaction, "002"), []byte("xx"))
	assert.Error(t, err)
}

func TestParseCompressionType(t *testing.T) {
	for _, name := range []string{"none", "zstd", "snappy", "lz4"} {
		c, err := ParseCompressionType(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}
	_, err := ParseCompressionType("gzip")
	assert.Error(t, err)
}
