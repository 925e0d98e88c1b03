package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/danzar/internal/config"
)

func writeConfig(t *testing.T) (string, string) {
	return writeConfigFor(t, "http://127.0.0.1:1/v1")
}

func writeConfigFor(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := strings.Join([]string{
		"default_provider: lmstudio",
		"providers:",
		"  lmstudio:",
		"    type: openai",
		"    base_url: " + baseURL,
		"    model: gemma",
		"embedding:",
		"  type: hash",
		"  dimensions: 32",
		"memory:",
		"  path: " + filepath.Join(dir, "rag_histories.json"),
		"settings_path: " + filepath.Join(dir, "settings.json"),
		"log:",
		"  file: " + filepath.Join(dir, "danzar.log"),
		"",
	}, "\n")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "danzar dev (none)\n", out)
}

func TestSettingsSetAndShow(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "settings", "set", "personality", "You are a stern ice wizard.")
	require.NoError(t, err)
	assert.Contains(t, out, "personality updated")

	out, err = execute(t, "--config", cfgPath, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "You are a stern ice wizard.")

	_, err = execute(t, "--config", cfgPath, "settings", "set", "colour", "red")
	assert.Error(t, err)
}

func TestIngestAppendsToMemoryLog(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	doc := filepath.Join(dir, "lore.md")
	require.NoError(t, os.WriteFile(doc, []byte("Fire magic draws on heat."), 0o644))

	out, err := execute(t, "--config", cfgPath, "ingest", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 chunks)")

	data, err := os.ReadFile(filepath.Join(dir, "rag_histories.json"))
	require.NoError(t, err)
	var texts []string
	require.NoError(t, json.Unmarshal(data, &texts))
	assert.Equal(t, []string{"doc: Fire magic draws on heat."}, texts)

	_, err = execute(t, "--config", cfgPath, "ingest", filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestUnknownProviderFlag(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "--config", cfgPath, "--provider", "nope", "settings", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `provider "nope"`)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hello", "component", "test")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])

	_, _, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
	_, _, err = newLogger(config.LogConfig{Format: "xml"}, &buf)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "logs", "danzar.log")
	logger, closer, err = newLogger(config.LogConfig{File: file}, &buf)
	require.NoError(t, err)
	logger.Info("to file")
	require.NoError(t, closer.Close())
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestModelsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"gemma","size":2048},{"name":"llama3.2"}]}`)
	}))
	defer srv.Close()
	cfgPath, _ := writeConfigFor(t, srv.URL+"/v1")

	out, err := execute(t, "--config", cfgPath, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "gemma")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "llama3.2")
}
