package credconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiro-gateway/kiro-gateway/internal/credpool"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "creds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesEntriesAndDropsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `
- auth: Social
  refreshToken: rt1
  description: first
- auth: IdC
  refreshToken: rt2
  clientId: cid
  clientSecret: secret
- auth: Social
  refreshToken: rt3
  disabled: true
`)
	configs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, credpool.AuthSocial, configs[0].Auth)
	assert.Equal(t, credpool.AuthIdC, configs[1].Auth)
	assert.Equal(t, "cid", configs[1].ClientID)
}

func TestLoadRejectsMissingRefreshToken(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `
- auth: Social
  description: bad entry
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `
- auth: Social
  refreshToken: rt1
`)

	reloaded := make(chan []credpool.Config, 1)
	w, err := NewWatcher(path, func(c []credpool.Config) { reloaded <- c })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`
- auth: Social
  refreshToken: rt1
- auth: Social
  refreshToken: rt2
`), 0o600))

	select {
	case configs := <-reloaded:
		assert.Len(t, configs, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `
- auth: Social
  refreshToken: rt1
`)
	w, err := NewWatcher(path, func([]credpool.Config) {})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		w.Close()
		w.Close()
	})
}
