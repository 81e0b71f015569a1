package worker

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryableClassifiesTransportFailures(t *testing.T) {
	require.True(t, isRetryable(io.EOF))
	require.True(t, isRetryable(io.ErrUnexpectedEOF))
	require.True(t, isRetryable(net.ErrClosed))
	require.False(t, isRetryable(nil))
}
