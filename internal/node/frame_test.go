package node

import (
	"bytes"
	"testing"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/stretchr/testify/require"
)

func TestRequestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := requestFrame{RequestID: 42, Kind: command.KindPutValue, Version: command.Version, Body: []byte("hello")}
	require.NoError(t, writeRequest(&buf, f))

	got, err := readRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestResponseFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := responseFrame{RequestID: 7, Status: StatusProcessingError, Body: []byte("boom")}
	require.NoError(t, writeResponse(&buf, f))

	got, err := readResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := []byte{0x7F, 0xFF, 0xFF, 0xFF} // ~2GB, over maxFrameSize
	buf.Write(lenBuf)
	_, err := readFrame(&buf)
	require.Error(t, err)
}
