package biz

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeDeterministic(t *testing.T) {
	p := NewHashingPipeline(0)

	inputs := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte("x"), ChunkSize),       // exactly one chunk
		bytes.Repeat([]byte("y"), ChunkSize+1),     // chunk boundary + 1
		bytes.Repeat([]byte("z"), 3*ChunkSize+517), // several chunks
	}

	for _, in := range inputs {
		s1, err := p.Consume(bytes.NewReader(in))
		require.NoError(t, err)
		s2, err := p.Consume(bytes.NewReader(in))
		require.NoError(t, err)

		want := sha256.Sum256(in)
		assert.Equal(t, hex.EncodeToString(want[:]), s1.Hash())
		assert.Equal(t, s1.Hash(), s2.Hash())
		assert.Equal(t, int64(len(in)), s1.Size())

		s1.Close()
		s2.Close()
	}
}

func TestConsumeDistinctContents(t *testing.T) {
	p := NewHashingPipeline(0)
	seen := make(map[string]bool)

	for i := 0; i < 200; i++ {
		buf := make([]byte, 1+i*7)
		_, err := rand.Read(buf)
		require.NoError(t, err)

		s, err := p.Consume(bytes.NewReader(buf))
		require.NoError(t, err)
		assert.False(t, seen[s.Hash()], "hash collision for distinct random content")
		seen[s.Hash()] = true
		s.Close()
	}
}

func TestConsumeEmptyInput(t *testing.T) {
	p := NewHashingPipeline(0)

	_, err := p.Consume(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = p.Consume(nil)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestConsumeUnreadableStream(t *testing.T) {
	p := NewHashingPipeline(0)
	_, err := p.Consume(failingReader{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestSizeLimit(t *testing.T) {
	p := NewHashingPipeline(10)

	// declared size is rejected before hashing
	assert.ErrorIs(t, p.CheckDeclaredSize(11), ErrSizeLimitExceeded)
	assert.NoError(t, p.CheckDeclaredSize(10))

	// the stream itself is capped even without a declared size
	_, err := p.Consume(strings.NewReader("12345678901"))
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)

	s, err := p.Consume(strings.NewReader("1234567890"))
	require.NoError(t, err)
	s.Close()
}

func TestSpoolReplayInMemory(t *testing.T) {
	p := NewHashingPipeline(0)
	content := []byte("replay me twice")

	s, err := p.Consume(bytes.NewReader(content))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		r, err := s.Reader()
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
}

func TestSpoolSpillsToTempFile(t *testing.T) {
	p := NewHashingPipeline(0)
	p.memoryLimit = 1024 // force the spill path

	content := bytes.Repeat([]byte("abc"), 2048)
	s, err := p.Consume(bytes.NewReader(content))
	require.NoError(t, err)

	require.NotNil(t, s.file, "expected temp-file spool")
	name := s.file.Name()

	r, err := s.Reader()
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, s.Close())
	assert.NoFileExists(t, name)
}
