package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitializeIsIdempotent(t *testing.T) {
	require.NoError(t, Initialize(true))
	first := GetLogger()

	// A second call must not replace the global instance.
	require.NoError(t, Initialize(false))
	assert.Same(t, first, GetLogger())
}

func TestGetLoggerFallback(t *testing.T) {
	// Even before Initialize, callers get a usable logger.
	assert.NotNil(t, GetLogger())
}

func TestAppendContextFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), ConnectionIDKey, "conn-1")
	ctx = context.WithValue(ctx, ClientIDKey, "alice")
	ctx = context.WithValue(ctx, RoomKey, "room1")

	fields := appendContextFields(ctx, nil)

	assert.Contains(t, fields, zap.String("connection_id", "conn-1"))
	assert.Contains(t, fields, zap.String("client_id", "alice"))
	assert.Contains(t, fields, zap.String("room", "room1"))
	assert.Contains(t, fields, zap.String("service", "text-conferencing"))
}

func TestAppendContextFieldsNilContext(t *testing.T) {
	//nolint:staticcheck // exercising the nil guard on purpose
	fields := appendContextFields(nil, []zap.Field{zap.String("k", "v")})
	assert.Equal(t, []zap.Field{zap.String("k", "v")}, fields)
}
