package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracingFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "spans.json")
	require.NoError(t, Init("memlease", "0.0.1", fname))

	_, span := StartSpan(context.Background(), "allocator.allocate", "CONSUMER")
	span.WithAttributes(map[string]string{"correlation.id": "c1"})
	EndSpan(span, errors.New("insufficient capacity"))

	data, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Contains(t, string(data), "allocator.allocate")
	assert.Contains(t, string(data), "c1")
}

func TestNilSpan(t *testing.T) {
	var span *Span
	assert.Nil(t, span.WithAttributes(map[string]string{"k": "v"}))
	span.SetStatus(nil)
	EndSpan(span, nil)
}
