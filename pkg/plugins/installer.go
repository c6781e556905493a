package plugins

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/jingkaihe/hookgate/pkg/registry"
	"github.com/pkg/errors"
)

// ValidateRepoName validates a GitHub repository name format.
// Expected format: "owner/repo" (e.g., "acme/guards").
func ValidateRepoName(repo string) error {
	if repo == "" {
		return errors.New("repository name cannot be empty")
	}
	if !strings.Contains(repo, "/") {
		return errors.Errorf("invalid repository format %q: expected 'owner/repo'", repo)
	}
	parts := strings.SplitN(repo, "/", 2)
	if parts[0] == "" || parts[1] == "" {
		return errors.Errorf("invalid repository format %q: owner and repo cannot be empty", repo)
	}
	return nil
}

// repoToPluginName converts "owner/repo" to the directory name "owner@repo".
// Only the first slash is replaced.
func repoToPluginName(repo string) string {
	if !strings.Contains(repo, "/") {
		return repo
	}
	return strings.Replace(repo, "/", "@", 1)
}

// PluginNameToUserFacing converts "org@repo" directory format to "org/repo"
func PluginNameToUserFacing(pluginName string) string {
	return strings.Replace(pluginName, "@", "/", 1)
}

func repoURL(repo string) string {
	return "https://github.com/" + strings.TrimSuffix(repo, ".git") + ".git"
}

// Installer installs hook plugins from GitHub repositories or local
// directories
type Installer struct {
	global    bool
	force     bool
	discovery *Discovery
	cloneURL  func(repo string) string
}

// InstallerOption configures an Installer instance
type InstallerOption func(*Installer)

// WithGlobal installs plugins to the global directory
func WithGlobal(global bool) InstallerOption {
	return func(i *Installer) {
		i.global = global
	}
}

// WithForce overwrites existing plugins
func WithForce(force bool) InstallerOption {
	return func(i *Installer) {
		i.force = force
	}
}

// WithCloneURL overrides how a repository name maps to a clone URL
func WithCloneURL(fn func(repo string) string) InstallerOption {
	return func(i *Installer) {
		i.cloneURL = fn
	}
}

// NewInstaller creates a plugin installer writing to the plugins
// directories of discovery
func NewInstaller(discovery *Discovery, opts ...InstallerOption) *Installer {
	i := &Installer{
		discovery: discovery,
		cloneURL:  repoURL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// InstallResult describes an installed plugin
type InstallResult struct {
	Plugin InstalledPlugin
	Rules  int
}

// Install installs a plugin. src is either a local directory or a GitHub
// "owner/repo"; ref selects a branch or tag when cloning. The plugin's hook
// configuration must parse before anything is written.
func (i *Installer) Install(ctx context.Context, src, ref string) (*InstallResult, error) {
	var (
		srcDir     string
		pluginName string
	)

	if info, err := os.Stat(src); err == nil && info.IsDir() {
		srcDir = src
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve %s", src)
		}
		pluginName = filepath.Base(abs)
	} else {
		if err := ValidateRepoName(src); err != nil {
			return nil, err
		}
		tempDir, err := i.cloneRepo(ctx, src, ref)
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tempDir)
		srcDir = tempDir
		pluginName = repoToPluginName(src)
	}

	config := findConfig(filepath.Join(srcDir, hooksSubdir))
	if config == "" {
		return nil, errors.Errorf("no hook configuration found in %s (expected %s/hooks.json)", src, hooksSubdir)
	}

	pluginDir := filepath.Join(i.discovery.PluginsDir(i.global), pluginName)
	set, err := registry.LoadFile(config, registry.WithPluginRoot(pluginDir))
	if err != nil {
		return nil, errors.Wrapf(err, "plugin %s has an invalid hook configuration", src)
	}

	if err := i.checkExisting(pluginDir); err != nil {
		return nil, err
	}
	if err := copyDir(srcDir, pluginDir); err != nil {
		os.RemoveAll(pluginDir)
		return nil, errors.Wrapf(err, "failed to install plugin %s", src)
	}

	logger.G(ctx).
		WithField("plugin", pluginName).
		WithField("path", pluginDir).
		Info("installed plugin")

	return &InstallResult{
		Plugin: InstalledPlugin{
			Name:   PluginNameToUserFacing(pluginName),
			Path:   pluginDir,
			Config: filepath.Join(pluginDir, hooksSubdir, filepath.Base(config)),
			Global: i.global,
		},
		Rules: len(set.Rules),
	}, nil
}

func (i *Installer) cloneRepo(ctx context.Context, repo, ref string) (string, error) {
	tempDir, err := os.MkdirTemp("", "hookgate-plugin-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp directory")
	}

	opts := &git.CloneOptions{URL: i.cloneURL(repo), Depth: 1}
	if ref == "" {
		_, err = git.PlainCloneContext(ctx, tempDir, false, opts)
	} else {
		for _, name := range []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(ref),
			plumbing.NewTagReferenceName(ref),
		} {
			opts.ReferenceName = name
			opts.SingleBranch = true
			if _, err = git.PlainCloneContext(ctx, tempDir, false, opts); err == nil {
				break
			}
			os.RemoveAll(tempDir)
			if mkErr := os.MkdirAll(tempDir, 0o755); mkErr != nil {
				return "", errors.Wrap(mkErr, "failed to recreate temp directory")
			}
		}
	}
	if err != nil {
		os.RemoveAll(tempDir)
		return "", errors.Wrapf(err, "failed to clone repository %s", repo)
	}

	return tempDir, nil
}

func (i *Installer) checkExisting(path string) error {
	if _, err := os.Stat(path); err == nil {
		if !i.force {
			return errors.Errorf("plugin already exists at %s (use --force to overwrite)", path)
		}
		if err := os.RemoveAll(path); err != nil {
			return errors.Wrap(err, "failed to remove existing plugin")
		}
	}
	return nil
}

// copyDir copies src to dst, leaving out version control metadata
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(dst, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, destPath)
	})
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

// Remover handles plugin removal
type Remover struct {
	global    bool
	discovery *Discovery
}

// NewRemover creates a plugin remover
func NewRemover(discovery *Discovery, opts ...InstallerOption) *Remover {
	i := &Installer{}
	for _, opt := range opts {
		opt(i)
	}
	return &Remover{global: i.global, discovery: discovery}
}

// Remove removes a plugin by name. Accepts both "org/repo" and the
// directory form "org@repo".
func (r *Remover) Remove(name string) error {
	pluginName := repoToPluginName(name)
	if pluginName == "" || strings.ContainsAny(pluginName, `/\`) || pluginName == "." || pluginName == ".." {
		return errors.Errorf("invalid plugin name %q", name)
	}

	pluginPath := filepath.Join(r.discovery.PluginsDir(r.global), pluginName)
	if _, err := os.Stat(pluginPath); os.IsNotExist(err) {
		return errors.Errorf("plugin '%s' not found", name)
	}

	if err := os.RemoveAll(pluginPath); err != nil {
		return errors.Wrap(err, "failed to remove plugin")
	}
	return nil
}
