package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecFraming(t *testing.T) {
	assert.Equal(t, "PCMU/8000/1", CodecPCMU.ID())
	assert.Equal(t, "8 PCMA/8000", CodecPCMA.Rtpmap())
	assert.Equal(t, 160, CodecPCMU.SamplesPerFrame())
	assert.Equal(t, 160, CodecPCMU.BytesPerFrame())
	assert.Equal(t, 320, CodecPCMU.PCMBytesPerFrame())
	assert.Equal(t, uint32(160), CodecPCMA.TimestampIncrement())
}

func TestCodecEncodeDecode(t *testing.T) {
	pcm := make([]byte, CodecPCMU.PCMBytesPerFrame())
	for _, c := range []Codec{CodecPCMU, CodecPCMA} {
		enc, err := c.Encode(pcm)
		require.NoError(t, err, c.Name)
		assert.Len(t, enc, c.BytesPerFrame(), c.Name)

		dec, err := c.Decode(enc)
		require.NoError(t, err, c.Name)
		assert.Len(t, dec, len(pcm), c.Name)
	}

	_, err := CodecTelephoneEvent.Encode(pcm)
	assert.Error(t, err)
}

func TestCodecLookup(t *testing.T) {
	c, ok := CodecByPayloadType(8)
	require.True(t, ok)
	assert.Equal(t, "PCMA", c.Name)

	_, ok = CodecByPayloadType(101)
	assert.False(t, ok)

	c, ok = CodecByName("pcmu")
	require.True(t, ok)
	assert.Equal(t, uint8(0), c.PayloadType)
}

func TestCodecTablePriorities(t *testing.T) {
	tbl := NewCodecTable()

	list := tbl.List()
	require.Len(t, list, 2)
	assert.Equal(t, "PCMU", list[0].Codec.Name)
	assert.Equal(t, DefaultPCMUPriority, list[0].Priority)

	require.NoError(t, tbl.SetPriority("PCMA", 200))
	assert.Equal(t, "PCMA", tbl.List()[0].Codec.Name)

	require.NoError(t, tbl.SetPriority("PCMU/8000/1", 0))
	enabled := tbl.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "PCMA", enabled[0].Name)

	p, ok := tbl.Priority("PCMU")
	require.True(t, ok)
	assert.Equal(t, 0, p)

	assert.Error(t, tbl.SetPriority("PCMU", 256))
	assert.Error(t, tbl.SetPriority("PCMU", -1))
	assert.Error(t, tbl.SetPriority("opus/48000/2", 10))
}
