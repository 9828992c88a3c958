package proxyconfig

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetExternalUI_InsertsAfterController(t *testing.T) {
	m := newTestMaterializer(t)
	_, err := m.Materialize(defaultParams())
	require.NoError(t, err)

	changed, err := m.SetExternalUI("/etc/mihomo/ui")
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	text := string(data)

	ctrl := strings.Index(text, "external-controller:")
	ui := strings.Index(text, "external-ui: /etc/mihomo/ui")
	secret := strings.Index(text, "\nsecret:")
	require.NotEqual(t, -1, ui)
	assert.Less(t, ctrl, ui)
	assert.Less(t, ui, secret)
	assert.True(t, strings.HasPrefix(text, "# Generated by mihomo-installer"))

	info, err := os.Stat(m.Path())
	require.NoError(t, err)
	assert.Equal(t, ConfigMode, info.Mode().Perm())

	// Other keys survive the edit
	doc := parse(t, m.Path())
	assert.Equal(t, 7890, doc["mixed-port"])
	assert.Len(t, doc["proxy-groups"], 2)
}

func TestSetExternalUI_Idempotent(t *testing.T) {
	m := newTestMaterializer(t)
	p := defaultParams()
	p.UIPath = "/etc/mihomo/ui"
	_, err := m.Materialize(p)
	require.NoError(t, err)

	before, err := os.ReadFile(m.Path())
	require.NoError(t, err)

	changed, err := m.SetExternalUI("/etc/mihomo/ui")
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetExternalUI_ReplacesDifferentValue(t *testing.T) {
	m := newTestMaterializer(t)
	require.NoError(t, os.MkdirAll(strings.TrimSuffix(m.Path(), "/config.yaml"), 0o755))
	require.NoError(t, os.WriteFile(m.Path(), []byte("# hand tuned\nmixed-port: 1080\nexternal-ui: ./dashboard\nsecret: abc\n"), 0o600))

	changed, err := m.SetExternalUI("/etc/mihomo/ui")
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "# hand tuned")
	assert.Equal(t, 1, strings.Count(string(data), "external-ui:"))
	assert.Equal(t, "/etc/mihomo/ui", parse(t, m.Path())["external-ui"])
}

func TestSetExternalUI_AppendsWithoutController(t *testing.T) {
	m := newTestMaterializer(t)
	require.NoError(t, os.MkdirAll(strings.TrimSuffix(m.Path(), "/config.yaml"), 0o755))
	require.NoError(t, os.WriteFile(m.Path(), []byte("mixed-port: 1080\n"), 0o600))

	changed, err := m.SetExternalUI("/srv/ui")
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Equal(t, "mixed-port: 1080\nexternal-ui: /srv/ui\n", string(data))
}

func TestSetExternalUI_Errors(t *testing.T) {
	m := newTestMaterializer(t)

	_, err := m.SetExternalUI("/etc/mihomo/ui")
	assert.Error(t, err)

	require.NoError(t, os.MkdirAll(strings.TrimSuffix(m.Path(), "/config.yaml"), 0o755))
	require.NoError(t, os.WriteFile(m.Path(), []byte("- just\n- a list\n"), 0o600))
	_, err = m.SetExternalUI("/etc/mihomo/ui")
	assert.ErrorIs(t, err, errNotMapping)
}

func TestReadSettings(t *testing.T) {
	m := newTestMaterializer(t)
	p := defaultParams()
	p.Secret = "abc"
	_, err := m.Materialize(p)
	require.NoError(t, err)

	controller, secret, err := ReadSettings(m.Path())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", controller)
	assert.Equal(t, "abc", secret)
}
