// Package plugins locates hook configuration sources and manages hook
// plugins. A plugin is a directory carrying hooks/hooks.json plus whatever
// scripts its hooks reference through ${CLAUDE_PLUGIN_ROOT}. Plugins are
// installed per project under .hookgate/plugins or globally under
// ~/.hookgate/plugins.
package plugins

// Origin records where a configuration source was found
type Origin string

// Source origins in descending priority
const (
	OriginExplicit      Origin = "explicit"
	OriginProject       Origin = "project"
	OriginProjectPlugin Origin = "project-plugin"
	OriginGlobalPlugin  Origin = "global-plugin"
	OriginGlobal        Origin = "global"
)

// Source is one configuration file to load into the registry
type Source struct {
	Path       string
	PluginRoot string
	Origin     Origin
	// Plugin is the user-facing plugin name (org/repo) for plugin sources
	Plugin string
}

// InstalledPlugin is a plugin directory found under a plugins directory
type InstalledPlugin struct {
	Name   string // user-facing name, e.g. "acme/guards"
	Path   string
	Config string // path of the plugin's hook configuration
	Global bool
}
