//go:build unix

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jingkaihe/hookgate/pkg/presenter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConfigValidate(t *testing.T) {
	tests := []struct {
		name       string
		quiet      bool
		wantOut    []string
		wantNoOut  bool
		breakHooks bool
		wantErr    string
	}{
		{
			name: "valid project",
			wantOut: []string{
				"Sources\n-------\n",
				"(project, 3 rules)",
				strings.Repeat("-", 60) + "\n3 rules from 1 sources\n",
			},
		},
		{
			name:      "quiet prints nothing",
			quiet:     true,
			wantNoOut: true,
		},
		{
			name:       "invalid project reports errors even when quiet",
			quiet:      true,
			breakHooks: true,
			wantNoOut:  true,
			wantErr:    "[ERROR]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := newProject(t)
			if tt.breakHooks {
				path := filepath.Join(config.ProjectDir, ".hookgate", "hooks.json")
				require.NoError(t, os.WriteFile(path, []byte(`{"hooks": {"NotAnEvent": []}}`), 0o644))
			}

			var out, errOut bytes.Buffer
			presenter.SetOutput(&out, &errOut)
			presenter.SetQuiet(tt.quiet)
			t.Cleanup(func() {
				presenter.SetOutput(os.Stdout, os.Stderr)
				presenter.SetQuiet(false)
			})

			err := runConfigValidate(config)
			if tt.wantErr != "" {
				var exit *exitError
				require.ErrorAs(t, err, &exit)
				assert.Equal(t, 1, exit.code)
				assert.Contains(t, errOut.String(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			if tt.wantNoOut {
				assert.Empty(t, out.String())
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}
