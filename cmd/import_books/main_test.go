package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/library"
)

func TestReadCatalog(t *testing.T) {
	entries, err := readCatalog(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Animal Farm", entries[0].Name)
	require.NotNil(t, entries[0].Copies)
	assert.Equal(t, 4, *entries[0].Copies)
	assert.Nil(t, entries[2].Copies)

	_, err = readCatalog(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestImportCatalog(t *testing.T) {
	mgr, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	err = importCatalog(context.Background(), mgr, filepath.Join("testdata", "catalog.yaml"))
	assert.ErrorContains(t, err, "1 of 3 books failed")

	books, err := mgr.ListBooks(context.Background(), library.ListOptions{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, books, 2)
	for _, b := range books {
		if b.Name == "Animal Farm" {
			assert.Equal(t, 4, b.NumberOfBooks)
			assert.Equal(t, "animal-farm", b.Slug)
		}
	}
}
