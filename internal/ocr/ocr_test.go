//go:build ocr

package ocr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineHonoursCanceledContext(t *testing.T) {
	engine, err := New("eng")
	require.NoError(t, err)
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Recognize(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	engine, err := New("eng")
	require.NoError(t, err)
	assert.NoError(t, engine.Close())
	assert.NoError(t, engine.Close())
}
