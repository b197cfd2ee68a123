package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evidenceledger/internal/ir"
)

func TestJobCodec(t *testing.T) {
	job := Job{
		Payload:  []byte{0x00, 0xff, 'h', 'i'},
		Metadata: ir.Object{"source": ir.String("screen")},
	}

	data, err := MarshalJob(job)
	require.NoError(t, err)
	assert.Equal(t, `{"metadata":{"source":"screen"},"payload":"AP9oaQ=="}`, string(data))

	got, err := UnmarshalJob(data)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestJobCodec_NilMetadata(t *testing.T) {
	data, err := MarshalJob(Job{Payload: []byte("x")})
	require.NoError(t, err)

	got, err := UnmarshalJob(data)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{}, got.Metadata)
}

func TestUnmarshalJob_Invalid(t *testing.T) {
	for _, doc := range []string{`nope`, `[]`, `{"metadata":{}}`, `{"payload":"%%%"}`} {
		_, err := UnmarshalJob([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestJobCodec_AckNotSerialized(t *testing.T) {
	acked := false
	job := Job{Payload: []byte("x"), Ack: func() error { acked = true; return nil }}

	data, err := MarshalJob(job)
	require.NoError(t, err)
	assert.Equal(t, `{"metadata":{},"payload":"eA=="}`, string(data))

	got, err := UnmarshalJob(data)
	require.NoError(t, err)
	assert.Nil(t, got.Ack)
	assert.False(t, acked)
}
