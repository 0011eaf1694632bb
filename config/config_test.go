package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/mongodb-labs/session-core/config"
	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/internal/logger"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New()
	require.Equal(t, description.ModePrimary, c.ReadPreference.Mode)
	require.Equal(t, int64(100), c.MaxPoolSize)
	require.Equal(t, 500*time.Millisecond, c.MinHeartbeatInterval)
}

func TestNew_OptionsOverrideDefaults(t *testing.T) {
	t.Parallel()

	c := New(
		WithSeeds("a:27017", "b:27017"),
		WithReplicaSetName("rs0"),
		WithMaxPoolSize(5),
		WithServerSelectionTimeout(2*time.Second),
	)

	require.Equal(t, []string{"a:27017", "b:27017"}, c.Seeds)
	require.Equal(t, "rs0", c.ReplicaSetName)
	require.Equal(t, int64(5), c.MaxPoolSize)
	require.Equal(t, 2*time.Second, c.ServerSelectionTimeout)
}

func TestNew_DefaultLogLevelIsOff(t *testing.T) {
	t.Parallel()

	c := New()
	require.Equal(t, logger.LevelOff, c.LogLevel)
}

func TestWithLogLevel(t *testing.T) {
	t.Parallel()

	c := New(WithLogLevel(logger.LevelDebug))
	require.Equal(t, logger.LevelDebug, c.LogLevel)
}

func TestWithTLS_DefaultsConfigWhenNil(t *testing.T) {
	t.Parallel()

	c := New(WithTLS(nil))
	require.True(t, c.TLS)
	require.NotNil(t, c.TLSConfig)
}
