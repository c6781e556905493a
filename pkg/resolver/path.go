package resolver

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// WindowsToWSLPath rewrites a Windows path to the WSL mount convention.
//
//	C:\Users\me\hook.js      -> /mnt/c/Users/me/hook.js
//	d:/work\repo             -> /mnt/d/work/repo
//	\\wsl$\Ubuntu\home\me    -> /home/me
//	/home/me/hook.js         -> /home/me/hook.js (unchanged)
//
// Anything that is not a drive-letter or WSL UNC path is returned as is.
func WindowsToWSLPath(p string) string {
	if isDrivePath(p) {
		drive := strings.ToLower(p[:1])
		rest := strings.ReplaceAll(p[2:], `\`, "/")
		return "/mnt/" + drive + rest
	}

	for _, prefix := range []string{`\\wsl$\`, `\\wsl.localhost\`, `//wsl$/`, `//wsl.localhost/`} {
		if len(p) < len(prefix) || !strings.EqualFold(p[:len(prefix)], prefix) {
			continue
		}
		rest := strings.ReplaceAll(p[len(prefix):], `\`, "/")
		// drop the distribution name
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return rest[i:]
		}
		return "/"
	}

	return p
}

// isDrivePath reports whether p starts with a drive letter followed by a
// colon and either nothing or a path separator.
func isDrivePath(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}
	return len(p) == 2 || p[2] == '\\' || p[2] == '/'
}

// RewriteArg rewrites a single command argument. Besides bare paths it
// handles option values written as --flag=C:\path.
func RewriteArg(arg string) string {
	if rewritten := WindowsToWSLPath(arg); rewritten != arg {
		return rewritten
	}
	if key, value, ok := strings.Cut(arg, "="); ok {
		if rewritten := WindowsToWSLPath(value); rewritten != value {
			return key + "=" + rewritten
		}
	}
	return arg
}

// RewriteScript rewrites Windows paths appearing as literal words of a shell
// script: plain, single-quoted or double-quoted words without expansions,
// including assignment values and redirection targets. A script that does
// not parse, or has nothing to rewrite, is returned unchanged.
func RewriteScript(src string) string {
	file, err := syntax.NewParser().Parse(strings.NewReader(src), "")
	if err != nil {
		return src
	}

	changed := false
	rewrite := func(value *string) {
		if rewritten := RewriteArg(*value); rewritten != *value {
			*value = rewritten
			changed = true
		}
	}
	syntax.Walk(file, func(node syntax.Node) bool {
		word, ok := node.(*syntax.Word)
		if !ok || len(word.Parts) != 1 {
			return true
		}
		switch part := word.Parts[0].(type) {
		case *syntax.Lit:
			rewrite(&part.Value)
		case *syntax.SglQuoted:
			rewrite(&part.Value)
		case *syntax.DblQuoted:
			if len(part.Parts) == 1 {
				if lit, ok := part.Parts[0].(*syntax.Lit); ok {
					rewrite(&lit.Value)
				}
			}
		}
		return true
	})
	if !changed {
		return src
	}

	var buf strings.Builder
	if err := syntax.NewPrinter().Print(&buf, file); err != nil {
		return src
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
