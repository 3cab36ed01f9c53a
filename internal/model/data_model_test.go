package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamCreatedCarriesRootSentinel(t *testing.T) {
	s := Stream{ID: 7, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	root := Point{ID: 11, StreamID: 7}

	mut, err := NewStreamCreated(s, root)
	require.NoError(t, err)
	require.Equal(t, STREAM_CREATE, mut.Op)

	id, err := mut.StreamID()
	require.NoError(t, err)
	require.Equal(t, int64(7), id)

	gotStream, gotRoot, err := mut.DecodeStreamCreated()
	require.NoError(t, err)
	require.True(t, s.CreatedAt.Equal(gotStream.CreatedAt))
	require.True(t, gotRoot.IsRoot())
	require.Nil(t, gotRoot.ItemID)
}

func TestDecodeRejectsMismatchedOp(t *testing.T) {
	mut := NewStreamDeleted(3)

	_, err := mut.DecodePoint()
	require.Error(t, err)
	_, _, err = mut.DecodeStreamCreated()
	require.Error(t, err)
}

func TestStreamIDRequiresEightByteKey(t *testing.T) {
	_, err := Mutation{Op: POINT_ADD, Key: []byte{1, 2}}.StreamID()
	require.Error(t, err)
}

func TestOpsTypeString(t *testing.T) {
	require.Equal(t, "POINT_ADD", POINT_ADD.String())
	require.Equal(t, "OpsType(9)", OpsType(9).String())
	require.False(t, OpsType(9).Valid())
}
