package blob

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "blobs", "/images/")

	url, err := store.Save("ab/abcd", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "/images/ab/abcd", url)

	data, err := afero.ReadFile(fs, "blobs/ab/abcd")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	assert.Equal(t, "/images/ab/abcd", store.URL("ab/abcd"))
}

func TestFileStoreDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "blobs", "/images")

	_, err := store.Save("ab/abcd", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, store.Delete("ab/abcd"))

	exists, err := afero.Exists(fs, "blobs/ab/abcd")
	require.NoError(t, err)
	assert.False(t, exists)
}
