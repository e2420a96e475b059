package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/lowaak/train-control/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToFileAndExtraWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train-control.log")
	var extra bytes.Buffer

	logger, closer := New(config.LogConfig{File: path, MaxSizeMB: 1}, &extra)
	logger.Printf("Service: discovered %s", "90:84:2B:00:00:01")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Service: discovered 90:84:2B:00:00:01")
	assert.Contains(t, extra.String(), "Service: discovered 90:84:2B:00:00:01")
}

func TestNew_NoDestinations(t *testing.T) {
	logger, closer := New(config.LogConfig{})
	logger.Println("dropped")
	assert.NoError(t, closer.Close())
}

func TestLineFeed(t *testing.T) {
	feed := NewLineFeed()
	ch := make(chan string, 10)
	unregister := feed.Listen(ch)

	n, err := feed.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "first", <-ch)
	assert.Empty(t, ch)

	_, err = feed.Write([]byte("ond\nthird\n"))
	require.NoError(t, err)
	assert.Equal(t, "second", <-ch)
	assert.Equal(t, "third", <-ch)

	unregister()
	_, _ = feed.Write([]byte("ignored\n"))
	assert.Empty(t, ch)
}
