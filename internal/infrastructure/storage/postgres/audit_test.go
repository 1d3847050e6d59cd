package postgres

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitAuditLog_CompressesLargePlans(t *testing.T) {
	log, err := NewUnitAuditLog(nil)
	require.NoError(t, err)
	log.compressThreshold = 64

	small := []byte(`{"runId":"r1"}`)
	var entry AuditEntry
	log.encode(&entry, small)
	assert.Equal(t, CompressionNone, entry.CompressionAlgo)
	assert.Nil(t, entry.PayloadCompressed)

	got, err := log.decode(&entry)
	require.NoError(t, err)
	assert.Equal(t, small, []byte(got))

	large := append([]byte(`{"entries":"`), bytes.Repeat([]byte("batch"), 200)...)
	large = append(large, []byte(`"}`)...)
	entry = AuditEntry{}
	log.encode(&entry, large)
	assert.Equal(t, CompressionZstd, entry.CompressionAlgo)
	assert.Nil(t, entry.Payload)
	assert.Less(t, len(entry.PayloadCompressed), len(large))

	got, err = log.decode(&entry)
	require.NoError(t, err)
	assert.Equal(t, large, []byte(got))
}
