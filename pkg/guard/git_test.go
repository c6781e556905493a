package guard

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bashEvent(t *testing.T, command string) hooks.Event {
	t.Helper()
	input, err := json.Marshal(map[string]string{"command": command})
	require.NoError(t, err)
	return hooks.Event{Type: hooks.PreToolUse, Tool: "Bash", ToolInput: input}
}

func TestCheck_BlocksWriteOperations(t *testing.T) {
	tests := []struct {
		command   string
		operation string
	}{
		{"git commit -m fix", "commit"},
		{"git checkout -b feature", "checkout"},
		{"git push origin main", "push"},
		{"git pull --rebase", "pull"},
		{"git merge feature", "merge"},
		{"git switch main", "switch"},
		{"git reset --hard HEAD~1", "reset"},
		{"git rebase -i main", "rebase"},
		{"git stash", "stash"},
		{"git stash pop", "stash"},
		{"git cherry-pick abc123", "cherry-pick"},
		{"git revert HEAD", "revert"},
		{"git restore file.go", "restore"},
		{"git clean -fd", "clean"},
		{"git add .", "add"},
		{"git rm old.go", "rm"},
		{"git mv a.go b.go", "mv"},
		{"git branch feature", "branch (create)"},
		{"git branch -D feature", "branch -D"},
		{"git branch --delete feature", "branch --delete"},
		{"git branch -m old new", "branch -m"},
		{"git branch --set-upstream-to=origin/main", "branch --set-upstream-to"},
		{"git tag v1.0.0", "tag (create)"},
		{"git tag -d v1.0.0", "tag -d"},
		{"git remote add upstream https://example.com/repo.git", "remote add"},
		{"git remote -v set-url origin git@example.com:repo.git", "remote set-url"},
		{"git remote prune origin", "remote prune"},
		{"git reflog expire --all", "reflog expire"},
		{"git -C /tmp/repo commit -m x", "commit"},
		{"git -c user.name=bot commit -m x", "commit"},
		{"git --no-pager --git-dir=.git push", "push"},
		{"/usr/bin/git commit -m x", "commit"},
		{"go test ./... && git commit -am done", "commit"},
		{"make build; git push", "push"},
		{"git status | grep x || git commit -m y", "commit"},
		{"(cd sub && git checkout main)", "checkout"},
		{"echo $(git stash)", "stash"},
		{`sh -c "git commit -m 'from shell'"`, "commit"},
		{`bash -lc 'cd repo && git push'`, "push"},
		{"sudo git push", "push"},
		{"env GIT_AUTHOR_NAME=bot git commit -m x", "commit"},
		{"FOO=1 git commit -m x", "commit"},
		{`git "commit" -m x`, "commit"},
		{"sudo -u root git commit -m x", "commit"},
		{"sudo -- git push", "push"},
		{"doas -u root git push", "push"},
		{"nice -n 10 git push", "push"},
		{"nohup nice -n 5 git push &", "push"},
		{"env -C /tmp git push", "push"},
		{"env -u HOME GIT_DIR=.git git commit -m x", "commit"},
		{`env -S "git commit -m x"`, "commit"},
		{"timeout 10 git push", "push"},
		{"timeout -s KILL 10 git push", "push"},
		{"timeout --kill-after=5 10 git push", "push"},
		{"stdbuf -o L git push", "push"},
		{"ionice -c 3 git push", "push"},
		{"flock /tmp/repo.lock git commit -m x", "commit"},
		{"/usr/bin/time -f %e git push", "push"},
		{"command git commit -m x", "commit"},
		{"git ls-files | xargs -n 1 git add", "add"},
		{"git ls-files -z | xargs -0 -I {} git rm {}", "rm"},
		{"sudo -u root env -u HOME timeout 5 git push", "push"},
		{`eval "git commit -m x"`, "commit"},
		{"eval git push", "push"},
		{`sh -c 'eval "git push"'`, "push"},
		// unparseable, falls back to the token scan
		{`git commit -m "unterminated`, "commit"},
	}

	blocker := NewGitWriteBlocker()
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			v := blocker.Check(bashEvent(t, tt.command))
			require.True(t, v.Blocked)
			assert.Equal(t, tt.operation, v.Operation)
			assert.Contains(t, v.Message, tt.operation)
			for _, alt := range ReadOnlyAlternatives {
				assert.Contains(t, v.Message, alt)
			}
		})
	}
}

func TestCheck_AllowsReadOnlyOperations(t *testing.T) {
	tests := []string{
		"git status",
		"git diff",
		"git diff --cached",
		"git log --oneline -n 5",
		"git log --grep commit",
		"git show HEAD",
		"git branch",
		"git branch --show-current",
		"git branch -a",
		"git branch --list 'feat*'",
		"git rev-parse HEAD",
		"git merge-base main HEAD",
		"git tag",
		"git tag -l 'v*'",
		"git remote",
		"git remote -v",
		"git remote get-url origin",
		"git stash list",
		"git reflog show",
		"git blame main.go",
		"git ls-files",
		"git describe --tags",
		"git config --get user.email",
		"git --version",
		"git",
		"npm test",
		"go test ./...",
		"cat not-git-committed.txt",
		"echo git commit",
		"grep -r 'git push' docs/",
		"ls commit push merge",
		"./scripts/check-git-commit.sh",
		"timeout 10 git status",
		"sudo -u root git log",
		"nice -n 10 git diff",
		"xargs -n 1 git show",
		`eval "git diff --stat"`,
		"env -C /tmp git status",
		"",
	}

	blocker := NewGitWriteBlocker()
	for _, command := range tests {
		t.Run(command, func(t *testing.T) {
			v := blocker.Check(bashEvent(t, command))
			assert.False(t, v.Blocked, "unexpected block: %s", v.Message)
		})
	}
}

func TestCheck_IgnoresOtherTools(t *testing.T) {
	blocker := NewGitWriteBlocker()

	for _, tool := range []string{"Write", "Edit", "Read", ""} {
		evt := bashEvent(t, "git commit -m fix")
		evt.Tool = tool
		assert.False(t, blocker.Check(evt).Blocked, tool)
	}

	custom := NewGitWriteBlocker(WithTools("shell"))
	evt := bashEvent(t, "git push")
	assert.False(t, custom.Check(evt).Blocked)
	evt.Tool = "shell"
	assert.True(t, custom.Check(evt).Blocked)
}

func TestRun(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "blocked commit",
			payload:    `{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"git commit -m fix"}}`,
			wantCode:   ExitBlock,
			wantStderr: "git commit",
		},
		{
			name:       "allowed status echoes payload",
			payload:    `{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"git status"}}`,
			wantStdout: `{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"git status"}}`,
		},
		{
			name:       "other tool passes through",
			payload:    `{"hook_event_name":"PreToolUse","tool_name":"Write","tool_input":{"file_path":"notes.md"}}` + "\n",
			wantStdout: `{"hook_event_name":"PreToolUse","tool_name":"Write","tool_input":{"file_path":"notes.md"}}`,
		},
		{
			name:       "event name defaults to PreToolUse",
			payload:    `{"tool_name":"Bash","tool_input":{"command":"git checkout -b feature"}}`,
			wantCode:   ExitBlock,
			wantStderr: "checkout",
		},
		{
			name:       "invalid payload",
			payload:    `not json`,
			wantCode:   ExitBlock,
			wantStderr: "invalid hook payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := NewGitWriteBlocker().Run(strings.NewReader(tt.payload), &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStdout, stdout.String())
			if tt.wantStderr == "" {
				assert.Empty(t, stderr.String())
			} else {
				assert.Contains(t, stderr.String(), tt.wantStderr)
			}
		})
	}
}
