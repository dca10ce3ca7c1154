package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func seed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeDoc(t, filepath.Join(dir, "Tesla", "strategy.md"),
		"Tesla strategy focuses on vertical integration and autonomy. Robotaxi launch planned.")
	writeDoc(t, filepath.Join(dir, "Tesla", "risks.txt"),
		"Key risks: price competition from BYD and margin pressure.")
	writeDoc(t, filepath.Join(dir, "LG_Energy_Solution.md"),
		"LG Energy Solution partnerships include GM Ultium Cells and Honda.")
	writeDoc(t, filepath.Join(dir, "notes.pdf"), "ignored")
	return dir
}

func TestStore_LoadsCompanies(t *testing.T) {
	t.Parallel()
	s, err := NewStore(seed(t), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"LG Energy Solution", "Tesla"}, s.Companies())
	assert.Equal(t, 3, s.ChunkCount())
}

func TestStore_MissingDirIsEmpty(t *testing.T) {
	t.Parallel()
	s, err := NewStore(filepath.Join(t.TempDir(), "none"), DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, s.Companies())
	assert.Nil(t, s.Query("Tesla", "strategy", 3))
}

func TestStore_Query(t *testing.T) {
	t.Parallel()
	s, err := NewStore(seed(t), DefaultOptions())
	require.NoError(t, err)

	got := s.Query("tesla", "What are the main risks and competition?", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "Tesla/risks.txt", got[0].Source)
	assert.Contains(t, got[0].Text, "BYD")

	got = s.Query("LG Energy", "partnerships", 3)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "Ultium")

	assert.Empty(t, s.Query("Tesla", "the and of", 3))
	assert.Empty(t, s.Query("Nokia", "strategy", 3))
}

func TestStore_Resolve(t *testing.T) {
	t.Parallel()
	s, err := NewStore(seed(t), DefaultOptions())
	require.NoError(t, err)

	name, ok := s.Resolve("TESLA")
	assert.True(t, ok)
	assert.Equal(t, "Tesla", name)

	name, ok = s.Resolve("lgenergy")
	assert.True(t, ok)
	assert.Equal(t, "LG Energy Solution", name)

	_, ok = s.Resolve("")
	assert.False(t, ok)
}

func TestChunk(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 25)
	chunks := Chunk(text, 10, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[2], 9)

	assert.Nil(t, Chunk("   ", 10, 2))
	assert.Equal(t, []string{"시장 동향"}, Chunk("시장 동향", 100, 20))
}

func TestTerms(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"tesla", "battery", "strategy"}, Terms("What is Tesla's battery strategy? strategy"))
	assert.Equal(t, []string{"배터리", "전략"}, Terms("배터리 전략"))
}

func TestStore_Watch(t *testing.T) {
	t.Parallel()
	dir := seed(t)
	s, err := NewStore(dir, DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, 20*time.Millisecond, nil) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeDoc(t, filepath.Join(dir, "BYD.md"), "BYD blade battery strategy.")

	assert.Eventually(t, func() bool {
		for _, c := range s.Companies() {
			if c == "BYD" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
