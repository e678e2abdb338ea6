package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_NextIDAssignsAndPersists(t *testing.T) {
	root := writeTempDir(t)
	c, err := Open(root)
	require.NoError(t, err)

	id1, err := c.NextID()
	require.NoError(t, err)
	id2, err := c.NextID()
	require.NoError(t, err)
	assert.Equal(t, id1+1, id2)

	b, err := os.ReadFile(filepath.Join(root, nextIDFile))
	require.NoError(t, err)
	assert.Equal(t, "3", string(b)) // system bundle reserves 0, next() handed out 1 and 2
}

func TestCache_CreateGetRemove(t *testing.T) {
	root := writeTempDir(t)
	c, err := Open(root)
	require.NoError(t, err)

	contentDir := writeTempDir(t)
	id, err := c.NextID()
	require.NoError(t, err)
	a, err := c.Create(id, "reference:file:"+contentDir, 1, nil, nil, nil)
	require.NoError(t, err)

	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Same(t, a, got)

	assert.Len(t, c.GetArchives(), 1)

	require.NoError(t, c.Remove(a))
	_, err = c.Get(id)
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestCache_OpenReloadsExistingArchives(t *testing.T) {
	root := writeTempDir(t)
	c, err := Open(root)
	require.NoError(t, err)

	contentDir := writeTempDir(t)
	id, err := c.NextID()
	require.NoError(t, err)
	_, err = c.Create(id, "reference:file:"+contentDir, 1, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := Open(root)
	require.NoError(t, err)
	assert.Len(t, reopened.GetArchives(), 1)
}

func TestCache_CreateRejectsDuplicateID(t *testing.T) {
	root := writeTempDir(t)
	c, err := Open(root)
	require.NoError(t, err)

	contentDir := writeTempDir(t)
	_, err = c.Create(7, "reference:file:"+contentDir, 1, nil, nil, nil)
	require.NoError(t, err)

	_, err = c.Create(7, "reference:file:"+contentDir, 1, nil, nil, nil)
	assert.ErrorIs(t, err, ErrArchiveExists)
}

func TestCache_OpenRequiresRoot(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, ErrInvalidCacheRoot)
}
