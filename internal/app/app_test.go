package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"labflow/internal/config"
)

func testConfig(t *testing.T, settings map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	v.Set("env", config.EnvTest)
	v.Set("db.workspace", t.TempDir())
	for k, val := range settings {
		v.Set(k, val)
	}
	cfg, err := LoadConfig(v, "")
	require.NoError(t, err)
	return cfg
}

func TestOpenWithSQLiteAndBootstrap(t *testing.T) {
	cfg := testConfig(t, map[string]any{
		"bootstrap.admin_email":    "root@lab.test",
		"bootstrap.admin_password": "root-pass",
	})
	ctx := context.Background()
	a, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Bootstrap(ctx))
	require.NoError(t, a.Bootstrap(ctx))
	sess, err := a.Engine.Login(ctx, "root@lab.test", "root-pass")
	require.NoError(t, err)
	assert.Equal(t, "administrator", sess.User.Role)
	assert.Equal(t, "Administrator", sess.User.Name)
}

func TestBootstrapNeedsPassword(t *testing.T) {
	cfg := testConfig(t, map[string]any{"bootstrap.admin_email": "root@lab.test"})
	a, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.Error(t, a.Bootstrap(context.Background()))
}

func TestOpenUsesRedisDenylist(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, map[string]any{
		"redis.addr":               mr.Addr(),
		"bootstrap.admin_email":    "root@lab.test",
		"bootstrap.admin_password": "root-pass",
	})
	ctx := context.Background()
	a, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Bootstrap(ctx))

	sess, err := a.Engine.Login(ctx, "root@lab.test", "root-pass")
	require.NoError(t, err)
	id, claims, err := a.Engine.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	require.NoError(t, a.Engine.Logout(ctx, id, claims))
	assert.NotEmpty(t, mr.Keys())
	_, _, err = a.Engine.Authenticate(ctx, sess.Token)
	assert.Error(t, err)
}

func TestOpenRejectsUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, map[string]any{"redis.addr": "127.0.0.1:1"})
	_, err := Open(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
