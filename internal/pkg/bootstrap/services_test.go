package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/sweeper"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/testutil"
)

func TestNew_WithoutRedis(t *testing.T) {
	services, err := New(context.Background(), testutil.NewTestDB(t), nil)
	require.NoError(t, err)

	assert.Nil(t, services.Notifications)
	assert.Equal(t, []string{sweeper.KindOverdue, sweeper.KindReconcile}, services.Sweeps.Kinds())

	deps := services.Deps()
	assert.Same(t, services.Engine, deps.Engine)
	assert.Same(t, services.Billing, deps.Billing)
	assert.Same(t, services.Hub, deps.Hub)

	services.Start(true)
	assert.True(t, services.Sweeps.IsRunning())
	services.Stop()
	assert.False(t, services.Sweeps.IsRunning())
}

func TestRetryPolicyFromEnv(t *testing.T) {
	t.Setenv("SETTLE_RETRY_ATTEMPTS", "7")
	t.Setenv("SETTLE_RETRY_BASE_DELAY", "10ms")

	p := RetryPolicyFromEnv()
	assert.Equal(t, 7, p.Attempts)
	assert.Equal(t, 10*time.Millisecond, p.BaseDelay)
}
