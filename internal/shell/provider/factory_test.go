package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
)

func TestNew_RejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), "azure", Options{Region: "eastus"}, nil, nil)
	require.ErrorIs(t, err, cloudfail.ErrUnsupportedProvider)
	assert.Contains(t, err.Error(), `"azure"`)
}

func TestNew_RequiresRegion(t *testing.T) {
	for _, name := range []string{"aws", "gcp"} {
		t.Run(name, func(t *testing.T) {
			_, err := New(context.Background(), name, Options{}, nil, nil)

			var vErr *cloudfail.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "region", vErr.Field)
		})
	}
}

func TestNew_RequiresProjectIDForGCP(t *testing.T) {
	_, err := New(context.Background(), "gcp", Options{Region: "us-central1"}, nil, nil)

	var vErr *cloudfail.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "project_id", vErr.Field)
}
