package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CRM_FIELDS_FILE", "missing.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.CRM.PageSize)
	assert.Equal(t, 120*time.Second, cfg.Sync.BatchDelay)
	assert.Equal(t, 5, cfg.Sync.SoftRetryLimit)
	assert.Equal(t, 10, cfg.Sync.HardRetryLimit)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "imagens", cfg.Photos.Dir)
	assert.Equal(t, ":21009", cfg.HTTPAddr)
	assert.False(t, cfg.S3.Enabled())
	assert.Equal(t, DefaultFields(), cfg.CRM.Fields)
	assert.Contains(t, cfg.CRM.Fields.Detail, "Codigo")
	assert.Contains(t, cfg.CRM.Fields.Detail, "ExibirNoSite")
	assert.Contains(t, cfg.CRM.Fields.Detail, "DataAtualizacao")
	assert.NotContains(t, cfg.CRM.Fields.Detail, "Caracteristicas")
	assert.Contains(t, cfg.CRM.Fields.List, "Caracteristicas")
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CRM_FIELDS_FILE", "missing.yaml")
	t.Setenv("CRM_PAGE_SIZE", "20")
	t.Setenv("SYNC_BATCH_DELAY", "5s")
	t.Setenv("CRM_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("S3_BUCKET", "photos")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.CRM.PageSize)
	assert.Equal(t, 5*time.Second, cfg.Sync.BatchDelay)
	assert.InDelta(t, 2.5, cfg.CRM.RequestsPerSecond, 0.0001)
	assert.True(t, cfg.S3.Enabled())
}

func TestLoad_FieldProjectionFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "crm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ids: [Codigo, Edificio]\norder_by: Codigo\n"), 0o644))
	t.Setenv("CRM_FIELDS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"Codigo", "Edificio"}, cfg.CRM.Fields.IDs)
	assert.Equal(t, "Codigo", cfg.CRM.Fields.OrderBy)
	assert.Equal(t, DefaultFields().Detail, cfg.CRM.Fields.Detail)
}

func TestLoad_Invalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CRM_FIELDS_FILE", "missing.yaml")

	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "mysql")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("hard below soft", func(t *testing.T) {
		t.Setenv("SYNC_SOFT_RETRY_LIMIT", "6")
		t.Setenv("SYNC_HARD_RETRY_LIMIT", "3")
		_, err := Load()
		assert.Error(t, err)
	})
}
