// Package resolver locates the interpreters that hook commands run under.
// Hosts differ wildly in where interpreters live: a node binary may be on
// PATH, in a package-manager prefix, or in a per-user version manager install,
// and on WSL hook arguments may arrive in Windows path form. The Resolver
// hides those differences behind a single Resolve call.
package resolver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/hookgate/pkg/logger"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/host"
)

// ErrNotFound is matched by errors.Is when an interpreter is absent
var ErrNotFound = errors.New("interpreter not found")

// ErrNotExecutable is matched by errors.Is when an explicitly named file
// exists but cannot be executed. It comes wrapped in a *ProbeError: the hook
// is present but broken, which is not the same as absent.
var ErrNotExecutable = errors.New("file is not executable")

// NotFoundError reports that no candidate location held the interpreter.
// Callers treat it as "hook unavailable" rather than as a failure.
type NotFoundError struct {
	Name   string
	Probed []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("interpreter %q not found (probed %d locations)", e.Name, len(e.Probed))
}

// Is makes errors.Is(err, ErrNotFound) hold
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ProbeError reports I/O failures other than absence, such as permission
// errors while inspecting candidate locations.
type ProbeError struct {
	Name string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("failed to probe for interpreter %q: %v", e.Name, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Source describes where an executable was found
type Source string

// Source constants
const (
	SourcePath           Source = "path"
	SourceExplicit       Source = "explicit"
	SourceWellKnown      Source = "well-known"
	SourceVersionManager Source = "version-manager"
)

// Executable is a resolved interpreter
type Executable struct {
	Name   string
	Path   string
	Source Source
}

// Resolver finds interpreters across heterogeneous hosts. It is safe for
// concurrent use; successful resolutions are cached for its lifetime.
type Resolver struct {
	goos     string
	homeDir  string
	lookPath func(string) (string, error)
	stat     func(string) (fs.FileInfo, error)
	getenv   func(string) string
	wsl      *bool

	wslOnce  sync.Once
	wslValue bool

	mu    sync.Mutex
	cache map[string]Executable
}

// Option configures a Resolver
type Option func(*Resolver)

// WithGOOS overrides the platform family used to pick well-known directories
func WithGOOS(goos string) Option {
	return func(r *Resolver) {
		r.goos = goos
	}
}

// WithHomeDir sets the home directory searched for version manager installs
func WithHomeDir(dir string) Option {
	return func(r *Resolver) {
		r.homeDir = dir
	}
}

// WithLookPath replaces the PATH lookup (for testing)
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Resolver) {
		r.lookPath = fn
	}
}

// WithStat replaces the file stat function (for testing)
func WithStat(fn func(string) (fs.FileInfo, error)) Option {
	return func(r *Resolver) {
		r.stat = fn
	}
}

// WithEnv replaces environment lookups (for testing)
func WithEnv(fn func(string) string) Option {
	return func(r *Resolver) {
		r.getenv = fn
	}
}

// WithWSL forces WSL detection on or off
func WithWSL(enabled bool) Option {
	return func(r *Resolver) {
		r.wsl = &enabled
	}
}

// New creates a Resolver for the current host
func New(opts ...Option) *Resolver {
	home, _ := os.UserHomeDir()
	r := &Resolver{
		goos:     runtime.GOOS,
		homeDir:  home,
		lookPath: exec.LookPath,
		stat:     os.Stat,
		getenv:   os.Getenv,
		cache:    make(map[string]Executable),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve locates the named interpreter. Probing order is: the current
// PATH, well-known installation directories for the platform family, then
// user-level version manager installs (newest version first). Names that
// contain a path separator are checked directly.
func (r *Resolver) Resolve(ctx context.Context, name string) (Executable, error) {
	if name == "" {
		return Executable{}, errors.New("empty interpreter name")
	}

	r.mu.Lock()
	if exe, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return exe, nil
	}
	r.mu.Unlock()

	exe, err := r.resolve(ctx, name)
	if err != nil {
		return Executable{}, err
	}

	r.mu.Lock()
	r.cache[name] = exe
	r.mu.Unlock()

	logger.G(ctx).WithField("name", name).WithField("path", exe.Path).WithField("source", exe.Source).Debug("resolved interpreter")
	return exe, nil
}

func (r *Resolver) resolve(ctx context.Context, name string) (Executable, error) {
	var probeErrs *multierror.Error
	var probed []string

	if strings.ContainsAny(name, `/\`) {
		path := name
		if r.InWSL(ctx) {
			path = WindowsToWSLPath(path)
		}
		probed = append(probed, path)
		info, err := r.stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR):
			return Executable{}, &NotFoundError{Name: name, Probed: probed}
		case err != nil:
			return Executable{}, &ProbeError{Name: name, Err: errors.Wrapf(err, "failed to stat %s", path)}
		case !r.executableMode(info):
			return Executable{}, &ProbeError{Name: name, Err: errors.Wrapf(ErrNotExecutable, "%s (mode %s)", path, info.Mode())}
		}
		return Executable{Name: name, Path: path, Source: SourceExplicit}, nil
	}

	if path, err := r.lookPath(name); err == nil {
		return Executable{Name: name, Path: path, Source: SourcePath}, nil
	}
	probed = append(probed, "$PATH")

	for _, dir := range wellKnownDirs(r.goos) {
		for _, candidate := range r.candidateNames(name) {
			path := filepath.Join(dir, candidate)
			probed = append(probed, path)
			ok, err := r.isExecutable(path)
			if err != nil {
				probeErrs = multierror.Append(probeErrs, err)
				continue
			}
			if ok {
				return Executable{Name: name, Path: path, Source: SourceWellKnown}, nil
			}
		}
	}

	paths, err := r.versionManagerCandidates(name)
	if err != nil {
		probeErrs = multierror.Append(probeErrs, err)
	}
	for _, path := range paths {
		probed = append(probed, path)
		ok, err := r.isExecutable(path)
		if err != nil {
			probeErrs = multierror.Append(probeErrs, err)
			continue
		}
		if ok {
			return Executable{Name: name, Path: path, Source: SourceVersionManager}, nil
		}
	}

	if err := probeErrs.ErrorOrNil(); err != nil {
		return Executable{}, &ProbeError{Name: name, Err: err}
	}
	return Executable{}, &NotFoundError{Name: name, Probed: probed}
}

// candidateNames returns the file names an interpreter may have on disk
func (r *Resolver) candidateNames(name string) []string {
	if r.goos == "windows" && filepath.Ext(name) == "" {
		return []string{name + ".exe", name + ".cmd", name}
	}
	return []string{name}
}

// isExecutable reports whether path is an executable regular file. A missing
// file is not an error.
func (r *Resolver) isExecutable(path string) (bool, error) {
	info, err := r.stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat %s", path)
	}
	return r.executableMode(info), nil
}

func (r *Resolver) executableMode(info fs.FileInfo) bool {
	if info.IsDir() {
		return false
	}
	if r.goos == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

// wellKnownDirs lists package-manager installation directories per
// platform family.
func wellKnownDirs(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/opt/homebrew/bin",
			"/usr/local/bin",
			"/opt/local/bin",
			"/usr/bin",
			"/bin",
		}
	case "windows":
		return []string{
			`C:\Program Files\nodejs`,
			`C:\Program Files (x86)\nodejs`,
			`C:\Program Files\Git\bin`,
			`C:\Program Files\Git\usr\bin`,
		}
	default:
		return []string{
			"/usr/local/bin",
			"/usr/bin",
			"/bin",
			"/snap/bin",
			"/usr/local/sbin",
		}
	}
}

// versionManagerPatterns are doublestar patterns, relative to the home
// directory, that match interpreters installed by per-user version managers.
// %s is replaced with the interpreter name.
var versionManagerPatterns = []string{
	".nvm/versions/node/*/bin/%s",
	".fnm/node-versions/*/installation/bin/%s",
	".local/share/fnm/node-versions/*/installation/bin/%s",
	".volta/bin/%s",
	".asdf/installs/nodejs/*/bin/%s",
	".asdf/shims/%s",
	"n/bin/%s",
	".pyenv/versions/*/bin/%s",
	"AppData/Roaming/nvm/*/%s.exe",
}

func (r *Resolver) versionManagerCandidates(name string) ([]string, error) {
	if r.homeDir == "" {
		return nil, nil
	}
	fsys := os.DirFS(r.homeDir)

	var found []string
	for _, pattern := range versionManagerPatterns {
		matches, err := doublestar.Glob(fsys, fmt.Sprintf(pattern, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to glob %s", pattern)
		}
		sortNewestFirst(matches)
		for _, m := range matches {
			found = append(found, filepath.Join(r.homeDir, filepath.FromSlash(m)))
		}
	}
	return found, nil
}

// sortNewestFirst orders paths so that the highest embedded version number
// comes first (v20.11.0 before v18.19.1 before v9.0.0).
func sortNewestFirst(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return compareVersions(versionNumbers(paths[i]), versionNumbers(paths[j])) > 0
	})
}

// versionNumbers extracts every run of digits in s
func versionNumbers(s string) []int {
	var nums []int
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] >= '0' && s[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, _ := strconv.Atoi(s[start:i])
			nums = append(nums, n)
			start = -1
		}
	}
	return nums
}

func compareVersions(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] > b[i] {
				return 1
			}
			return -1
		}
	}
	return len(a) - len(b)
}

// InWSL reports whether the process runs inside the Windows Subsystem for
// Linux. Detection uses the WSL environment variables first and falls back
// to the kernel version string.
func (r *Resolver) InWSL(ctx context.Context) bool {
	if r.wsl != nil {
		return *r.wsl
	}
	r.wslOnce.Do(func() {
		r.wslValue = r.detectWSL(ctx)
	})
	return r.wslValue
}

func (r *Resolver) detectWSL(ctx context.Context) bool {
	if r.goos != "linux" {
		return false
	}
	if r.getenv("WSL_DISTRO_NAME") != "" || r.getenv("WSL_INTEROP") != "" {
		return true
	}
	kernel, err := host.KernelVersionWithContext(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Debug("failed to read kernel version for WSL detection")
		return false
	}
	return strings.Contains(strings.ToLower(kernel), "microsoft")
}

// RewriteArgs rewrites Windows drive-letter paths in args to their WSL mount
// form when running inside WSL. Outside WSL args are returned unchanged.
func (r *Resolver) RewriteArgs(ctx context.Context, args []string) []string {
	if !r.InWSL(ctx) {
		return args
	}
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = RewriteArg(arg)
	}
	return out
}
