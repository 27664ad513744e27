// ABOUTME: Tests for upload storage, ordering, and file context synthesis
// ABOUTME: Runs against an in-memory afero filesystem

package uploads

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	return NewStore(afero.NewMemMapFs(), maxBytes, NewExtractor(0))
}

func TestStore_SaveAndListInUploadOrder(t *testing.T) {
	s := newTestStore(t, 0)

	for _, name := range []string{"zeta.txt", "alpha.txt", "mid.csv"} {
		stored, err := s.Save("conv-1", name, strings.NewReader("data "+name))
		require.NoError(t, err)
		assert.Equal(t, name, stored)
	}

	names, err := s.List("conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta.txt", "alpha.txt", "mid.csv"}, names)
}

func TestStore_ReuploadKeepsPositionAndReplacesContent(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.Save("c", "a.txt", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = s.Save("c", "b.txt", strings.NewReader("b"))
	require.NoError(t, err)
	_, err = s.Save("c", "a.txt", strings.NewReader("new"))
	require.NoError(t, err)

	names, err := s.List("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)

	f, err := s.Open("c", "a.txt")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestStore_StripsDirectories(t *testing.T) {
	s := newTestStore(t, 0)

	stored, err := s.Save("c", "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "passwd", stored)

	stored, err = s.Save("c", `C:\docs\report.txt`, strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "report.txt", stored)
}

func TestStore_RejectsInvalidNames(t *testing.T) {
	s := newTestStore(t, 0)

	for _, name := range []string{"", ".", "..", manifestName} {
		_, err := s.Save("c", name, strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrInvalidName), "name %q", name)
	}
	for _, conv := range []string{"", "..", "a/b"} {
		_, err := s.Save(conv, "f.txt", strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrInvalidName), "conversation %q", conv)
	}
}

func TestStore_EnforcesSizeCap(t *testing.T) {
	s := newTestStore(t, 4)

	_, err := s.Save("c", "ok.txt", strings.NewReader("1234"))
	require.NoError(t, err)

	_, err = s.Save("c", "big.txt", strings.NewReader("12345"))
	assert.True(t, errors.Is(err, ErrTooLarge))

	names, err := s.List("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.txt"}, names)
}

func TestStore_ListUnknownConversation(t *testing.T) {
	s := newTestStore(t, 0)
	names, err := s.List("nobody")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStore_ListWithoutManifestFallsBackToNameOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c/b.txt", []byte("b"), 0644))
	require.NoError(t, afero.WriteFile(fs, "c/a.txt", []byte("a"), 0644))
	s := NewStore(fs, 0, nil)

	names, err := s.List("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestStore_FileContext(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.Save("c", "notes.txt", strings.NewReader("vendor list"))
	require.NoError(t, err)
	_, err = s.Save("c", "logo.png", strings.NewReader("\x89PNG\x00\x01"))
	require.NoError(t, err)
	_, err = s.Save("c", "broken.pdf", strings.NewReader("%PDF-1.4 not really"))
	require.NoError(t, err)

	got, err := s.FileContext("c")
	require.NoError(t, err)
	want := "The user has uploaded the following files:\n" +
		"Content of notes.txt:\nvendor list\n\n" +
		"File uploaded: logo.png\n\n" +
		"File uploaded: broken.pdf"
	assert.Equal(t, want, got)
}

func TestStore_FileContextEmpty(t *testing.T) {
	s := newTestStore(t, 0)
	got, err := s.FileContext("c")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractor(t *testing.T) {
	e := NewExtractor(5)

	text, ok := e.Extract("a.md", []byte("hello world"))
	assert.True(t, ok)
	assert.Equal(t, "hello", text)

	text, ok = e.Extract("noext", []byte("héllo"))
	assert.True(t, ok)
	assert.Equal(t, "héll", text)

	_, ok = e.Extract("bin", []byte{0x00, 0x01})
	assert.False(t, ok)
}
