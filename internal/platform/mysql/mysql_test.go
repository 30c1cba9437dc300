package mysql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsMalformedDSN(t *testing.T) {
	db, err := New(context.Background(), "not a dsn")
	require.Error(t, err)
	require.Nil(t, db)
}
