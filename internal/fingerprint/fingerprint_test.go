package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeFileIsContentAddressed(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "nested", "b.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0o755))
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o644))

	sa, err := Take(a)
	require.NoError(t, err)
	sb, err := Take(b)
	require.NoError(t, err)

	assert.Equal(t, KindFile, sa.Kind)
	assert.Equal(t, sa.Hash, sb.Hash)
	assert.NotEqual(t, sa.Path, sb.Path)

	require.NoError(t, os.WriteFile(b, []byte("different"), 0o644))
	sb, err = Take(b)
	require.NoError(t, err)
	assert.NotEqual(t, sa.Hash, sb.Hash)
}

func TestTakeMissing(t *testing.T) {
	snap, err := Take(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, KindMissing, snap.Kind)
	assert.Empty(t, snap.Hash)
}

func TestHashTreeIgnoresLocationButNotLayout(t *testing.T) {
	build := func(root string, name string) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "sub", name), []byte("x"), 0o644))
	}

	one := filepath.Join(t.TempDir(), "one")
	two := filepath.Join(t.TempDir(), "two")
	three := filepath.Join(t.TempDir(), "three")
	build(one, "f.txt")
	build(two, "f.txt")
	build(three, "g.txt")

	h1, err := HashTree(one)
	require.NoError(t, err)
	h2, err := HashTree(two)
	require.NoError(t, err)
	h3, err := HashTree(three)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)

	snap, err := Take(one)
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, snap.Kind)
	assert.Equal(t, h1, snap.Hash)
}

func TestCombineIsLengthPrefixed(t *testing.T) {
	assert.NotEqual(t, Combine("ab", "c"), Combine("a", "bc"))
	assert.Equal(t, Combine("a", "b"), Combine("a", "b"))
	assert.Len(t, Combine(), 64)
}

func TestFilesOrderMatters(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("2"), 0o644))

	ab, err := Files([]string{a, b})
	require.NoError(t, err)
	ba, err := Files([]string{b, a})
	require.NoError(t, err)
	assert.NotEqual(t, ab, ba)

	empty, err := Files(nil)
	require.NoError(t, err)
	assert.Equal(t, Combine(), empty)
}
