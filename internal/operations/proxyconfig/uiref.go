package proxyconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/huangyocai/mihomo-installer/internal/operations/common"
)

const (
	keyExternalUI         = "external-ui"
	keyExternalController = "external-controller"
	keySecret             = "secret"
)

var errNotMapping = errors.New("config root is not a mapping")

// SetExternalUI makes the config at path reference uiPath, editing the YAML
// node tree so comments and unrelated keys survive. It reports whether the
// file changed.
func (m *Materializer) SetExternalUI(uiPath string) (bool, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return false, fmt.Errorf("failed to read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to parse config: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return false, errNotMapping
	}

	if !setScalar(doc.Content[0], keyExternalUI, uiPath, keyExternalController) {
		m.logger.WithField("path", m.path).Debug("Config already references the UI")
		return false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := common.WriteFileAtomic(m.path, &buf, ConfigMode); err != nil {
		return false, err
	}

	m.logger.WithField("external_ui", uiPath).Info("Config updated to serve the UI")
	return true, nil
}

// setScalar sets key to value in mapping, inserting it after the `after` key
// (or at the end) when missing. It returns false when nothing changed.
func setScalar(mapping *yaml.Node, key, value, after string) bool {
	insertAt := len(mapping.Content)

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		k, v := mapping.Content[i], mapping.Content[i+1]
		switch k.Value {
		case key:
			if v.Kind == yaml.ScalarNode && v.Value == value {
				return false
			}
			mapping.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
			return true
		case after:
			insertAt = i + 2
		}
	}

	pair := []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	}
	content := make([]*yaml.Node, 0, len(mapping.Content)+2)
	content = append(content, mapping.Content[:insertAt]...)
	content = append(content, pair...)
	content = append(content, mapping.Content[insertAt:]...)
	mapping.Content = content
	return true
}

// extractSecret returns the top-level secret of a config document, if any
func extractSecret(data []byte) string {
	var doc struct {
		Secret string `yaml:"secret"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc.Secret
}

// ReadSettings returns the controller address and secret of an existing config
func ReadSettings(path string) (controller, secret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", "", fmt.Errorf("failed to parse config: %w", err)
	}

	controller, _ = doc[keyExternalController].(string)
	secret, _ = doc[keySecret].(string)
	return controller, secret, nil
}
