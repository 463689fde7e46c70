package gpio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgate/ledgate/pkg/errors"
)

func makeLED(t *testing.T, root, name, maxBrightness, trigger string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	if maxBrightness != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(maxBrightness+"\n"), 0644))
	}
	if trigger != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "trigger"), []byte(trigger+"\n"), 0644))
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestNewDriver(t *testing.T) {
	tests := []struct {
		kind string
		want interface{}
	}{
		{KindGPIOCdev, &CdevDriver{}},
		{KindSysfs, &SysfsDriver{}},
		{KindSim, &SimDriver{}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			d, err := NewDriver(Options{Kind: tt.kind, Chip: "gpiochip0"}, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, d)
		})
	}

	_, err := NewDriver(Options{Kind: "relay"}, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestSysfsDriver_Lifecycle(t *testing.T) {
	root := t.TempDir()
	dir := makeLED(t, root, "green:status", "255", "none [heartbeat] timer")

	d := NewSysfsDriver(root, nil)
	require.NoError(t, d.Claim("green:status", "GREEN LED"))
	require.NoError(t, d.ConfigureOutput("green:status", false))

	assert.Equal(t, "none", readFile(t, filepath.Join(dir, "trigger")))
	assert.Equal(t, "0", readFile(t, filepath.Join(dir, "brightness")))

	require.NoError(t, d.SetLevel("green:status", true))
	assert.Equal(t, "255", readFile(t, filepath.Join(dir, "brightness")))

	require.NoError(t, d.SetLevel("green:status", false))
	assert.Equal(t, "0", readFile(t, filepath.Join(dir, "brightness")))

	d.Release("green:status")
	assert.Equal(t, "heartbeat", readFile(t, filepath.Join(dir, "trigger")))

	err := d.SetLevel("green:status", true)
	assert.True(t, errors.HasCode(err, errors.ErrCodeLineFailed), "released led is not claimed")
}

func TestSysfsDriver_DefaultBrightness(t *testing.T) {
	root := t.TempDir()
	dir := makeLED(t, root, "led0", "", "")

	d := NewSysfsDriver(root, nil)
	require.NoError(t, d.Claim("led0", "x"))
	require.NoError(t, d.ConfigureOutput("led0", true))
	assert.Equal(t, "1", readFile(t, filepath.Join(dir, "brightness")))
}

func TestSysfsDriver_ClaimErrors(t *testing.T) {
	root := t.TempDir()
	makeLED(t, root, "led0", "1", "")
	d := NewSysfsDriver(root, nil)

	for _, name := range []string{"missing", "", "..", "a/b"} {
		err := d.Claim(name, "x")
		assert.True(t, errors.HasCode(err, errors.ErrCodeLineFailed), name)
	}

	require.NoError(t, d.Claim("led0", "x"))
	err := d.Claim("led0", "y")
	assert.True(t, errors.HasCode(err, errors.ErrCodeLineFailed), "double claim")

	err = d.ConfigureOutput("missing", true)
	assert.True(t, errors.HasCode(err, errors.ErrCodeLineFailed))

	// Releasing an unknown led is a no-op.
	d.Release("missing")
}

func TestActiveTrigger(t *testing.T) {
	assert.Equal(t, "heartbeat", activeTrigger("none [heartbeat] timer"))
	assert.Equal(t, "none", activeTrigger("[none] timer"))
	assert.Equal(t, "", activeTrigger("none timer"))
}

func TestSimDriver(t *testing.T) {
	d := NewSimDriver(nil)

	err := d.SetLevel("535", true)
	assert.True(t, errors.HasCode(err, errors.ErrCodeLineFailed))

	require.NoError(t, d.Claim("535", "GREEN LED"))
	assert.True(t, errors.HasCode(d.Claim("535", "again"), errors.ErrCodeLineFailed))

	err = d.SetLevel("535", true)
	assert.True(t, errors.HasCode(err, errors.ErrCodeLineFailed), "input lines cannot be driven")

	require.NoError(t, d.ConfigureOutput("535", false))
	require.NoError(t, d.SetLevel("535", true))
	require.NoError(t, d.SetLevel("535", true))
	require.NoError(t, d.SetLevel("535", false))

	line, ok := d.Line("535")
	require.True(t, ok)
	assert.Equal(t, SimLine{ID: "535", Label: "GREEN LED", Output: true, On: false, Toggles: 2}, line)

	require.NoError(t, d.Claim("17", "other"))
	lines := d.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "17", lines[0].ID)

	d.Release("535")
	_, ok = d.Line("535")
	assert.False(t, ok)
}

func TestCdevDriver_NotClaimed(t *testing.T) {
	d := NewCdevDriver("gpiochip0", nil)

	assert.True(t, errors.HasCode(d.ConfigureOutput("535", true), errors.ErrCodeLineFailed))
	assert.True(t, errors.HasCode(d.SetLevel("535", true), errors.ErrCodeLineFailed))
	d.Release("535")

	_, _, err := d.resolve("-1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeLineFailed))

	chip, offset, err := d.resolve("17")
	require.NoError(t, err)
	assert.Equal(t, "gpiochip0", chip)
	assert.Equal(t, 17, offset)
}
