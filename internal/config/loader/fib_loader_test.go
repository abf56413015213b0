package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chartdraw/internal/drawing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customLevels = `levels:
  - ratio: 0
  - ratio: 0.5
    label: mid
    is_key: true
    color: "#22d3ee"
  - ratio: 1
    visible: false
`

func newTarget(t *testing.T) *drawing.FibLevelConfig {
	t.Helper()
	cfg, err := drawing.NewFibLevelConfig(nil)
	require.NoError(t, err)
	return cfg
}

func TestDecodeLevels(t *testing.T) {
	levels, err := DecodeLevels([]byte(customLevels))
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.True(t, levels[0].Visible, "visible defaults to true")
	assert.Equal(t, "0", levels[0].Label)
	assert.Equal(t, "mid", levels[1].Label)
	assert.True(t, levels[1].IsKey)
	assert.False(t, levels[2].Visible)

	fromJSON, err := DecodeLevels([]byte(`{"levels":[{"ratio":0.382,"visible":true}]}`))
	require.NoError(t, err)
	assert.Equal(t, 0.382, fromJSON[0].Ratio)
}

func TestDecodeLevelsRejects(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"no levels":       "levels: []\n",
		"string ratio":    "levels:\n  - ratio: half\n",
		"unknown field":   "levels:\n  - ratio: 0.5\n    weight: 3\n",
		"bad color":       "levels:\n  - ratio: 0.5\n    color: red\n",
		"duplicate ratio": "levels:\n  - ratio: 0.5\n  - ratio: 0.5\n",
		"out of range":    "levels:\n  - ratio: 9\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLevels([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, drawing.ErrInvalidLevels), err.Error())
		})
	}
}

func TestNewFibLoaderSeedsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fib_levels.yaml")
	target := newTarget(t)

	l, err := NewFibLoader(path, target)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, int64(1), l.Version())
	assert.Equal(t, int64(1), target.Version(), "seeded file matches target, no update")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	levels, err := DecodeLevels(raw)
	require.NoError(t, err)
	assert.Equal(t, drawing.DefaultFibLevels(), levels)
}

func TestNewFibLoaderAppliesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fib_levels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(customLevels), 0o644))
	target := newTarget(t)

	_, err := NewFibLoader(path, target)
	require.NoError(t, err)
	assert.Len(t, target.Levels(), 3)

	require.NoError(t, os.WriteFile(path, []byte("levels: [ratio: 1"), 0o644))
	_, err = NewFibLoader(path, newTarget(t))
	assert.Error(t, err)
}

func TestFibLoaderReloadNotifiesTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fib_levels.yaml")
	target := newTarget(t)
	l, err := NewFibLoader(path, target)
	require.NoError(t, err)

	var got []drawing.FibLevel
	target.Subscribe(func(levels []drawing.FibLevel) { got = levels })

	require.NoError(t, os.WriteFile(path, []byte(customLevels), 0o644))
	require.NoError(t, l.Reload())
	require.Len(t, got, 3)

	got = nil
	require.NoError(t, l.Reload())
	assert.Nil(t, got, "unchanged file does not rebuild")

	require.NoError(t, os.WriteFile(path, []byte("levels:\n  - ratio: oops\n"), 0o644))
	assert.Error(t, l.Reload())
	assert.Len(t, target.Levels(), 3, "invalid file keeps previous levels")
}

func TestFibLoaderPersistsPanelChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fib_levels.yaml")
	target := newTarget(t)
	l, err := NewFibLoader(path, target)
	require.NoError(t, err)

	require.NoError(t, l.SetVisible(0.786, false))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	levels, err := DecodeLevels(raw)
	require.NoError(t, err)
	assert.False(t, levels[5].Visible)

	require.NoError(t, l.Update([]drawing.FibLevel{{Ratio: 0.5, Visible: true}}))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	levels, err = DecodeLevels(raw)
	require.NoError(t, err)
	assert.Len(t, levels, 1)

	assert.Error(t, l.Update(nil))
	assert.Len(t, l.Levels(), 1)
}

func TestFibLoaderWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fib_levels.yaml")
	target := newTarget(t)
	l, err := NewFibLoader(path, target)
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(customLevels), 0o644))
	assert.Eventually(t, func() bool {
		return len(target.Levels()) == 3
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFibLoaderKeepsChangeWhenSaveFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "levels")
	path := filepath.Join(dir, "fib_levels.yaml")
	target := newTarget(t)
	l, err := NewFibLoader(path, target)
	require.NoError(t, err)
	require.NoError(t, l.SaveError())
	loaded := l.LoadedAt()
	assert.False(t, loaded.IsZero())

	// 目录被替换成普通文件，写回必然失败
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	require.NoError(t, l.SetVisible(0.382, false))
	assert.False(t, target.Levels()[2].Visible, "change stays applied")
	assert.Error(t, l.SaveError())

	require.NoError(t, os.Remove(dir))
	require.NoError(t, l.Update([]drawing.FibLevel{{Ratio: 0.5, Visible: true}}))
	assert.NoError(t, l.SaveError())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	levels, err := DecodeLevels(raw)
	require.NoError(t, err)
	assert.Len(t, levels, 1)
	assert.Equal(t, loaded, l.LoadedAt(), "saving does not count as a reload")
}
