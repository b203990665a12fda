package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
)

func TestObjectKey(t *testing.T) {
	cfg := &Config{Prefix: "webhooks"}
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("CLT", -3*3600))

	key := cfg.ObjectKey("mercadopago", "hash:ab/cd", at)
	assert.Equal(t, "webhooks/mercadopago/2026/03/08/hash_ab_cd.json", key)
}

func TestLoadConfig_RequiresCredentialsWhenEnabled(t *testing.T) {
	env.Env = map[string]string{"ARCHIVE_S3_ENABLED": "true"}
	t.Cleanup(func() { env.Env = nil })

	_, err := LoadConfig()
	require.Error(t, err)

	env.Env["S3_ACCESS_KEY_ID"] = "key"
	env.Env["S3_SECRET_ACCESS_KEY"] = "secret"
	env.Env["S3_BUCKET_NAME"] = "kassenwart-archive"
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "webhooks", cfg.Prefix)
}

func TestNewFromEnv_DisabledIsNop(t *testing.T) {
	env.Env = map[string]string{}
	t.Cleanup(func() { env.Env = nil })

	a, err := NewFromEnv(context.Background())
	require.NoError(t, err)
	assert.IsType(t, NopArchiver{}, a)
	assert.NoError(t, a.Archive(context.Background(), "paypal", "WH-1", []byte(`{}`)))
}
