// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tokenward/tokenward/internal/config"
	"github.com/tokenward/tokenward/pkg/errutil"
)

func TestConfigShow_RedactsSecret(t *testing.T) {
	isolate(t)
	t.Setenv("TOKENWARD_TOKEN__SECRET", testSecret)

	out, err := execute(t, "", "config", "show", "--http-addr", ":7000")
	require.NoError(t, err)
	assert.NotContains(t, out, testSecret)

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "[redacted]", shown.Token.Secret)
	assert.Equal(t, ":7000", shown.HTTP.Addr)
	assert.Equal(t, config.Default().Token.AccessTTL, shown.Token.AccessTTL)
}

func TestConfigShow_ReadsFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "tokenward.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: text\n"), 0o600))

	out, err := execute(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "format: text")
}

func TestConfigValidate(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		isolate(t)
		_, err := execute(t, "", "config", "validate")
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("valid", func(t *testing.T) {
		isolate(t)
		t.Setenv("TOKENWARD_TOKEN__SECRET", testSecret)
		out, err := execute(t, "", "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})
}
