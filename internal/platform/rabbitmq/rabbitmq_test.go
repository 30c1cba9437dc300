package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsMalformedURL(t *testing.T) {
	conn, err := New("http://not-an-amqp-endpoint", "chat.analytics.events")
	require.Error(t, err)
	require.Nil(t, conn)
}
