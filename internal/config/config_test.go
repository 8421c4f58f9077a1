package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/expkit/internal/testutil"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DriverLocal, cfg.Backend.Driver)
	assert.Equal(t, "us-east-1", cfg.Archive.Region)
	assert.Equal(t, "experiments", cfg.Archive.Prefix)

	reg := cfg.FormatRegistry()
	assert.Equal(t, []string{"imagetiff", "imagepng", "imagemhd", "tablecsv", "numbercsv", "textfile", "json"}, reg.Names())
	mhd, ok := reg.Lookup("imagemhd")
	require.True(t, ok)
	assert.Equal(t, []string{"raw"}, mhd.Companions)
	csv, _ := reg.Lookup("numbercsv")
	assert.True(t, csv.Textual)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvWorkspace, ws)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, filepath.Join(ws, ".expkit", "journal.db"), cfg.Journal.Path)
	assert.Len(t, cfg.Formats, 7)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv(EnvWorkspace, "")
	dir := t.TempDir()
	path := testutil.WriteFile(t, filepath.Join(dir, "expkit.yaml"), `
workspace: `+dir+`
user:
  name: sylvain
journal:
  path: /var/lib/expkit/journal.db
backend:
  driver: dry-run
  env:
    MODELS: /opt/models
metrics:
  textfile: /var/lib/node_exporter/expkit.prom
archive:
  bucket: lab-data
  endpoint: http://localhost:9000
  path_style: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Workspace)
	assert.Equal(t, "sylvain", cfg.Author())
	assert.Equal(t, "/var/lib/expkit/journal.db", cfg.Journal.Path)
	assert.Equal(t, DriverDryRun, cfg.Backend.Driver)
	assert.Equal(t, map[string]string{"MODELS": "/opt/models"}, cfg.Backend.Env)
	assert.Equal(t, "/var/lib/node_exporter/expkit.prom", cfg.Metrics.Textfile)
	assert.Equal(t, ArchiveConfig{
		Bucket:    "lab-data",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		PathStyle: true,
		Prefix:    "experiments",
	}, cfg.Archive)
	assert.Len(t, cfg.Formats, 7)
}

func TestLoad_FormatsReplaceBuiltins(t *testing.T) {
	t.Setenv(EnvWorkspace, t.TempDir())
	path := testutil.WriteFile(t, filepath.Join(t.TempDir(), "expkit.yaml"), `
formats:
  - name: nifti
    extension: nii
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"nifti"}, cfg.FormatRegistry().Names())
}

func TestLoad_EnvConfigPath(t *testing.T) {
	t.Setenv(EnvWorkspace, t.TempDir())
	path := testutil.WriteFile(t, filepath.Join(t.TempDir(), "expkit.yaml"), "user:\n  name: env\n")
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env", cfg.User.Name)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(EnvWorkspace, t.TempDir())
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown field", "colour: red\n", "colour"},
		{"unknown driver", "backend:\n  driver: slurm\n", `unknown driver "slurm"`},
		{"format without extension", "formats:\n  - name: x\n", "name and extension are required"},
		{"duplicate format", "formats:\n  - {name: x, extension: a}\n  - {name: x, extension: b}\n", `duplicate format "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.WriteFile(t, filepath.Join(dir, tt.name+".yaml"), tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAuthor_FallsBackToUser(t *testing.T) {
	t.Setenv("USER", "lab")
	assert.Equal(t, "lab", Default().Author())
}
