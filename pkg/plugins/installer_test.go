package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRepoName(t *testing.T) {
	tests := []struct {
		repo    string
		wantErr string
	}{
		{"acme/guards", ""},
		{"acme/guards/nested", ""},
		{"", "cannot be empty"},
		{"guards", "expected 'owner/repo'"},
		{"/guards", "cannot be empty"},
		{"acme/", "cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			err := ValidateRepoName(tt.repo)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPluginNames(t *testing.T) {
	assert.Equal(t, "acme@guards", repoToPluginName("acme/guards"))
	assert.Equal(t, "acme@guards/x", repoToPluginName("acme/guards/x"))
	assert.Equal(t, "local", repoToPluginName("local"))
	assert.Equal(t, "acme/guards", PluginNameToUserFacing("acme@guards"))
	assert.Equal(t, "https://github.com/acme/guards.git", repoURL("acme/guards"))
	assert.Equal(t, "https://github.com/acme/guards.git", repoURL("acme/guards.git"))
}

func pluginSource(t *testing.T, config string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "git-guard")
	writeFile(t, filepath.Join(dir, "hooks", "hooks.json"), config)
	writeFile(t, filepath.Join(dir, "bin", "guard.sh"), "#!/bin/sh\nexit 0\n")
	require.NoError(t, os.Chmod(filepath.Join(dir, "bin", "guard.sh"), 0o755))
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main\n")
	return dir
}

func TestInstaller_LocalDirectory(t *testing.T) {
	l := newLayout(t)
	d := l.discovery(t)
	src := pluginSource(t, hookConfig("${CLAUDE_PLUGIN_ROOT}/bin/guard.sh"))

	result, err := NewInstaller(d).Install(context.Background(), src, "")
	require.NoError(t, err)

	pluginDir := filepath.Join(l.project, "plugins", "git-guard")
	assert.Equal(t, "git-guard", result.Plugin.Name)
	assert.Equal(t, pluginDir, result.Plugin.Path)
	assert.Equal(t, 1, result.Rules)
	assert.FileExists(t, filepath.Join(pluginDir, "hooks", "hooks.json"))
	assert.NoDirExists(t, filepath.Join(pluginDir, ".git"))

	info, err := os.Stat(filepath.Join(pluginDir, "bin", "guard.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "scripts stay executable")

	installed, err := d.ListInstalledPlugins(false)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, result.Plugin.Config, installed[0].Config)

	_, err = NewInstaller(d).Install(context.Background(), src, "")
	assert.ErrorContains(t, err, "already exists")

	_, err = NewInstaller(d, WithForce(true)).Install(context.Background(), src, "")
	assert.NoError(t, err)
}

func TestInstaller_Global(t *testing.T) {
	l := newLayout(t)
	src := pluginSource(t, hookConfig("guard"))

	result, err := NewInstaller(l.discovery(t), WithGlobal(true)).Install(context.Background(), src, "")
	require.NoError(t, err)
	assert.True(t, result.Plugin.Global)
	assert.DirExists(t, filepath.Join(l.global, "plugins", "git-guard"))
}

func TestInstaller_Rejects(t *testing.T) {
	l := newLayout(t)
	d := l.discovery(t)

	t.Run("invalid configuration", func(t *testing.T) {
		src := pluginSource(t, `{"PreToolUse": [{"matcher": "tool ==", "hooks": []}]}`)
		_, err := NewInstaller(d).Install(context.Background(), src, "")
		assert.ErrorContains(t, err, "invalid hook configuration")
		assert.NoDirExists(t, filepath.Join(l.project, "plugins", "git-guard"))
	})

	t.Run("no configuration", func(t *testing.T) {
		_, err := NewInstaller(d).Install(context.Background(), t.TempDir(), "")
		assert.ErrorContains(t, err, "no hook configuration found")
	})

	t.Run("bad repository name", func(t *testing.T) {
		_, err := NewInstaller(d).Install(context.Background(), "not-a-repo", "")
		assert.ErrorContains(t, err, "expected 'owner/repo'")
	})

	t.Run("clone failure", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing")
		installer := NewInstaller(d, WithCloneURL(func(string) string { return missing }))
		_, err := installer.Install(context.Background(), "acme/guards", "main")
		assert.ErrorContains(t, err, "failed to clone repository acme/guards")
	})
}

func TestRemover(t *testing.T) {
	l := newLayout(t)
	d := l.discovery(t)
	writeFile(t, filepath.Join(l.global, "plugins", "acme@guards", "hooks", "hooks.json"), hookConfig("guard"))

	assert.ErrorContains(t, NewRemover(d).Remove("acme/guards"), "not found", "project scope")
	assert.ErrorContains(t, NewRemover(d, WithGlobal(true)).Remove(".."), "invalid plugin name")

	require.NoError(t, NewRemover(d, WithGlobal(true)).Remove("acme/guards"))
	assert.NoDirExists(t, filepath.Join(l.global, "plugins", "acme@guards"))
}
