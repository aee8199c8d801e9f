package eval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettingsSchema = `module wavekit.Settings

account: String = ""
region: String = ""
edgeZone: String = ""
keyName: String = ""
image: String = ""
instanceType: String = ""
vpcCidr: String = ""
publicSubnetCidr: String = ""
privateSubnetCidr: String = ""
edgeSubnetCidr: String = ""
appPort: Int = 0
appIngressCidr: String = ""
tags: Mapping<String, String> = new {}
`

func TestLoadSettings(t *testing.T) {
	tmpDir := t.TempDir()

	schemaDir := filepath.Join(tmpDir, ".wavekit", "schemas")
	require.NoError(t, os.MkdirAll(schemaDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "Settings.pkl"), []byte(testSettingsSchema), 0644))

	settings := `amends ".wavekit/schemas/Settings.pkl"

region = "us-west-2"
edgeZone = "us-west-2-wl1-sfo-wlz-1"
keyName = "edge-key"
appPort = 5000
tags {
  ["Team"] = "edge"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "wavekit.pkl"), []byte(settings), 0644))

	e := NewEvaluator(tmpDir)
	got, err := e.LoadSettings(context.Background(), "wavekit.pkl", nil)
	if err != nil {
		// The pkl runtime is an external binary; absence is not a code bug.
		t.Skipf("Skipping Pkl evaluation test (pkl runtime unavailable): %v", err)
	}

	assert.Equal(t, "us-west-2", got.Region)
	assert.Equal(t, "us-west-2-wl1-sfo-wlz-1", got.EdgeZone)
	assert.Equal(t, "edge-key", got.KeyName)
	assert.Equal(t, 5000, got.AppPort)
	assert.Equal(t, map[string]string{"Team": "edge"}, got.Tags)
	assert.Empty(t, got.Account)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	e := NewEvaluator(t.TempDir())
	_, err := e.LoadSettings(context.Background(), "wavekit.pkl", nil)
	require.Error(t, err)
}
