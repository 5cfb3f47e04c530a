package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/imagepipe/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "images.db")

	client, err := NewClient(&Config{Path: path}, logger.NewDiscard())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, DriverName, client.GetDB().DriverName())
	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.FileExists(t, path)
}

func TestNewClient_RequiresPath(t *testing.T) {
	client, err := NewClient(&Config{}, logger.NewDiscard())
	require.Error(t, err)
	assert.Nil(t, client)
}
