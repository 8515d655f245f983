package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithTracing(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(Config{ServiceName: "chat-test", TracingEnabled: true, TraceOutput: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"op"`)
}
