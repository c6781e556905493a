package plugins

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/hookgate/pkg/db"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/jingkaihe/hookgate/pkg/registry"
	"github.com/pkg/errors"
)

const (
	pluginsSubdir = "plugins"
	hooksSubdir   = "hooks"
	hookgateDir   = ".hookgate"
)

// configNames are the file names a hook configuration may use, in lookup
// order
var configNames = []string{"hooks.json", "hooks.yaml", "hooks.yml", "hooks.md"}

// Discovery locates configuration sources in priority order
type Discovery struct {
	baseDir    string // project-local ".hookgate"
	globalDir  string // ~/.hookgate
	explicit   []string
	pluginRoot string
}

// DiscoveryOption configures a Discovery instance
type DiscoveryOption func(*Discovery) error

// WithBaseDir sets the project-local hookgate directory
func WithBaseDir(dir string) DiscoveryOption {
	return func(d *Discovery) error {
		d.baseDir = dir
		return nil
	}
}

// WithGlobalDir sets the global hookgate directory
func WithGlobalDir(dir string) DiscoveryOption {
	return func(d *Discovery) error {
		d.globalDir = dir
		return nil
	}
}

// WithConfigFiles adds explicit configuration files. They take precedence
// over everything discovered and must exist.
func WithConfigFiles(paths ...string) DiscoveryOption {
	return func(d *Discovery) error {
		d.explicit = append(d.explicit, paths...)
		return nil
	}
}

// WithPluginRoot sets the plugin root used by explicit and project sources.
// Plugin sources always use their own directory.
func WithPluginRoot(dir string) DiscoveryOption {
	return func(d *Discovery) error {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve plugin root %s", dir)
		}
		d.pluginRoot = abs
		return nil
	}
}

// NewDiscovery creates a new discovery instance
func NewDiscovery(opts ...DiscoveryOption) (*Discovery, error) {
	globalDir, err := db.BasePath()
	if err != nil {
		return nil, err
	}

	d := &Discovery{
		baseDir:   hookgateDir,
		globalDir: globalDir,
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Sources returns the configuration sources in priority order: explicit
// files, the project configuration, project plugins, global plugins and
// finally the global configuration. A file reachable through two locations
// is listed once, at its highest priority.
func (d *Discovery) Sources() ([]Source, error) {
	var sources []Source
	seen := make(map[string]bool)
	add := func(s Source) {
		key := s.Path
		if abs, err := filepath.Abs(s.Path); err == nil {
			key = abs
		}
		if seen[key] {
			return
		}
		seen[key] = true
		sources = append(sources, s)
	}

	for _, path := range d.explicit {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "configuration %s", path)
		}
		if info.IsDir() {
			return nil, errors.Errorf("configuration %s is a directory", path)
		}
		add(Source{Path: path, PluginRoot: d.rootFor(path), Origin: OriginExplicit})
	}

	if path := findConfig(d.baseDir); path != "" {
		add(Source{Path: path, PluginRoot: d.rootFor(path), Origin: OriginProject})
	}

	for _, global := range []bool{false, true} {
		installed, err := d.ListInstalledPlugins(global)
		if err != nil {
			return nil, err
		}
		origin := OriginProjectPlugin
		if global {
			origin = OriginGlobalPlugin
		}
		for _, p := range installed {
			add(Source{Path: p.Config, PluginRoot: p.Path, Origin: origin, Plugin: p.Name})
		}
	}

	if path := findConfig(d.globalDir); path != "" {
		add(Source{Path: path, PluginRoot: filepath.Dir(path), Origin: OriginGlobal})
	}

	return sources, nil
}

func (d *Discovery) rootFor(path string) string {
	if d.pluginRoot != "" {
		return d.pluginRoot
	}
	return filepath.Dir(path)
}

// Load parses every discovered source. All sources are parsed even when some
// fail so that every problem is reported at once.
func (d *Discovery) Load(ctx context.Context) ([]*registry.RuleSet, error) {
	sources, err := d.Sources()
	if err != nil {
		return nil, err
	}

	var (
		sets   []*registry.RuleSet
		result *multierror.Error
	)
	for _, src := range sources {
		set, err := registry.LoadFile(src.Path, registry.WithPluginRoot(src.PluginRoot))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		logger.G(ctx).
			WithField("source", src.Path).
			WithField("origin", src.Origin).
			WithField("rules", len(set.Rules)).
			Debug("loaded configuration source")
		sets = append(sets, set)
	}

	return sets, result.ErrorOrNil()
}

// PluginsDir returns the project or global plugins directory
func (d *Discovery) PluginsDir(global bool) string {
	if global {
		return filepath.Join(d.globalDir, pluginsSubdir)
	}
	return filepath.Join(d.baseDir, pluginsSubdir)
}

// ListInstalledPlugins returns the plugins with a hook configuration in the
// project or global plugins directory, sorted by directory name.
func (d *Discovery) ListInstalledPlugins(global bool) ([]InstalledPlugin, error) {
	pluginsDir := d.PluginsDir(global)

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read plugins directory %s", pluginsDir)
	}

	var plugins []InstalledPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginPath := filepath.Join(pluginsDir, entry.Name())
		config := findConfig(filepath.Join(pluginPath, hooksSubdir))
		if config == "" {
			continue
		}
		plugins = append(plugins, InstalledPlugin{
			Name:   PluginNameToUserFacing(entry.Name()),
			Path:   pluginPath,
			Config: config,
			Global: global,
		})
	}

	return plugins, nil
}

func findConfig(dir string) string {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
