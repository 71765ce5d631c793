package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamastor/datamastor/cmd/pipeline"
)

func TestCommand(t *testing.T) {
	t.Parallel()

	t.Run("DontStoreDefaultsToTrialRun", func(t *testing.T) {
		t.Parallel()
		flag := pipeline.Command().Flags().Lookup("dont-store")
		require.NotNil(t, flag)
		assert.Equal(t, "true", flag.DefValue)
	})

	t.Run("AcceptsAtMostOnePath", func(t *testing.T) {
		t.Parallel()
		cmd := pipeline.Command()
		assert.NoError(t, cmd.Args(cmd, nil))
		assert.NoError(t, cmd.Args(cmd, []string{"out"}))
		assert.Error(t, cmd.Args(cmd, []string{"out", "extra"}))
	})
}
