package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envSnapshot isolates DTSE_-prefixed environment variables for the
// duration of a test, mirroring the teacher's own BD_/BEADS_ isolation
// helper so config tests can set env vars without bleeding into others.
func envSnapshot(t *testing.T) func() {
	t.Helper()
	var saved []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "DTSE_") {
			saved = append(saved, kv)
			name := strings.SplitN(kv, "=", 2)[0]
			require.NoError(t, os.Unsetenv(name))
		}
	}
	return func() {
		for _, kv := range saved {
			parts := strings.SplitN(kv, "=", 2)
			_ = os.Setenv(parts[0], parts[1])
		}
	}
}

// withProjectDir chdirs into a fresh temp directory for the duration of
// the test, so findProjectConfigFiles' walk-up starts somewhere
// deterministic instead of wherever `go test` happens to run from.
func withProjectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

func TestInitializeSetsDefaults(t *testing.T) {
	defer envSnapshot(t)()
	withProjectDir(t)

	require.NoError(t, Initialize())
	require.NotNil(t, v)

	assert.Equal(t, "actors", GetString("namespace"))
	assert.False(t, GetBool("disable-wal"))
	assert.Equal(t, 8, GetInt("mailbox-capacity"))
	assert.Equal(t, 8800, GetInt("port"))
}

func TestAccessorsAreNilSafeBeforeInitialize(t *testing.T) {
	old := v
	v = nil
	defer func() { v = old }()

	assert.Equal(t, "", GetString("namespace"))
	assert.False(t, GetBool("disable-wal"))
	assert.Equal(t, 0, GetInt("port"))
	assert.Equal(t, ConfigSource("default"), GetValueSource("namespace"))
	assert.Empty(t, AllSettings())
}

func TestEnvVarOverridesDefault(t *testing.T) {
	defer envSnapshot(t)()
	withProjectDir(t)

	require.NoError(t, os.Setenv("DTSE_NAMESPACE", "sensors"))
	require.NoError(t, Initialize())

	assert.Equal(t, "sensors", GetString("namespace"))
	assert.Equal(t, SourceEnvVar, GetValueSource("namespace"))
}

func TestConfigFileYamlOverridesDefault(t *testing.T) {
	defer envSnapshot(t)()
	dir := withProjectDir(t)

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".dtse"), 0o755))
	yaml := "namespace: warehouse\ndisable-wal: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dtse", "config.yaml"), []byte(yaml), 0o644))

	require.NoError(t, Initialize())

	assert.Equal(t, "warehouse", GetString("namespace"))
	assert.True(t, GetBool("disable-wal"))
	assert.Equal(t, SourceConfigFile, GetValueSource("namespace"))
}

func TestConfigFileTomlWinsOverYaml(t *testing.T) {
	defer envSnapshot(t)()
	dir := withProjectDir(t)

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".dtse"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dtse", "config.yaml"), []byte("namespace: from-yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dtse", "config.toml"), []byte("namespace = \"from-toml\"\n"), 0o644))

	require.NoError(t, Initialize())

	assert.Equal(t, "from-toml", GetString("namespace"))
}

func TestFindProjectConfigFilesWalksUpParents(t *testing.T) {
	defer envSnapshot(t)()
	root := withProjectDir(t)

	require.NoError(t, os.Mkdir(filepath.Join(root, ".dtse"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".dtse", "config.yaml"), []byte("namespace: found-from-below\n"), 0o644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.Chdir(nested))

	require.NoError(t, Initialize())
	assert.Equal(t, "found-from-below", GetString("namespace"))
}

func TestGetValueSourceConstants(t *testing.T) {
	assert.Equal(t, ConfigSource("default"), SourceDefault)
	assert.Equal(t, ConfigSource("config_file"), SourceConfigFile)
	assert.Equal(t, ConfigSource("env_var"), SourceEnvVar)
	assert.Equal(t, ConfigSource("flag"), SourceFlag)
}

func TestCheckOverridesReportsFlagBeatsEnvVar(t *testing.T) {
	defer envSnapshot(t)()
	withProjectDir(t)

	require.NoError(t, os.Setenv("DTSE_PORT", "9000"))
	require.NoError(t, Initialize())

	overrides := CheckOverrides(map[string]FlagOverride{
		"port":      {Value: 9100, WasSet: true},
		"namespace": {Value: "ignored", WasSet: false},
	})

	require.Len(t, overrides, 1)
	assert.Equal(t, "port", overrides[0].Key)
	assert.Equal(t, SourceFlag, overrides[0].OverriddenBy)
	assert.Equal(t, 9100, overrides[0].Value)
}

func TestCheckOverridesIgnoresFlagsStillAtDefault(t *testing.T) {
	defer envSnapshot(t)()
	withProjectDir(t)

	require.NoError(t, Initialize())

	overrides := CheckOverrides(map[string]FlagOverride{
		"port": {Value: 8800, WasSet: true},
	})
	assert.Empty(t, overrides, "a flag value matching an unset default has nothing to override")
}
