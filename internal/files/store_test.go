package files

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	return New(dir)
}

func TestUpload_ListRoundTrip(t *testing.T) {
	s := newTestStore(t)

	err := s.Upload(nil, "alice", "prices.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)

	names, err := s.List("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"prices.csv"}, names)
}

func TestUpload_RejectsOversizedPayload(t *testing.T) {
	s := newTestStore(t)

	oversized := bytes.Repeat([]byte("x"), maxUploadBytes+1)
	err := s.Upload(nil, "alice", "big.csv", bytes.NewReader(oversized))
	require.Error(t, err)
	assert.Equal(t, errs.TooLarge, errs.KindOf(err))

	names, err := s.List("alice")
	require.NoError(t, err)
	assert.Empty(t, names, "a rejected upload must not appear in List")
}

func TestUpload_ExactlyAtLimitSucceeds(t *testing.T) {
	s := newTestStore(t)

	exact := bytes.Repeat([]byte("x"), maxUploadBytes)
	err := s.Upload(nil, "alice", "exact.csv", bytes.NewReader(exact))
	require.NoError(t, err)
}

func TestList_IsolatesOwners(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upload(nil, "alice", "a.csv", strings.NewReader("x\n1\n")))
	require.NoError(t, s.Upload(nil, "bob", "b.csv", strings.NewReader("x\n1\n")))

	aliceFiles, err := s.List("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv"}, aliceFiles)

	bobFiles, err := s.List("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.csv"}, bobFiles)
}

func TestResolve_RejectsPathTraversal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upload(nil, "bob", "secret.csv", strings.NewReader("x\n1\n")))

	cases := []string{
		"../bob/secret.csv",
		"../../etc/passwd",
		"sub/dir/file.csv",
		"/etc/passwd",
	}
	for _, filename := range cases {
		err := s.Delete("alice", filename)
		require.Error(t, err, filename)
		assert.Equal(t, errs.PathViolation, errs.KindOf(err), filename)
	}

	// bob's file must survive every rejected attempt against alice's root.
	path := filepath.Join(s.base, "bob", "secret.csv")
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestDelete_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete("alice", "missing.csv")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestBrowse_PaginatesCSV(t *testing.T) {
	s := newTestStore(t)
	csv := "symbol,price\nAAA,1\nBBB,2\nCCC,3\n"
	require.NoError(t, s.Upload(nil, "alice", "data.csv", strings.NewReader(csv)))

	page, err := s.Browse("alice", "data.csv", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Data.Len())
	assert.Equal(t, 3, page.TotalRecords)
	assert.Equal(t, 2, page.TotalPages)
}
