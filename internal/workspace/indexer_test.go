package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestIndexer_EmptyWorkspace(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "image.png", "not indexed")

	idx, err := NewIndexer(nil).Index(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Map())
}

func TestIndexer_FiltersAndOrders(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.md", "# readme\nsecond line")
	writeFile(t, root, "a/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "notes.bin", "ignored extension")
	writeFile(t, root, ".git/config.json", `{"core": true}`)
	writeFile(t, root, "web/node_modules/lib/index.js", "module.exports = {}")
	writeFile(t, root, "pkg/__pycache__/mod.py", "x = 1")
	writeFile(t, root, "empty.txt", "")
	writeFile(t, root, "blob.txt", "abc\x00def")

	idx, err := NewIndexer(nil).Index(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, e := range idx.Entries() {
		paths = append(paths, e.RelativePath)
	}
	assert.Equal(t, []string{"a/main.go", "b.md"}, paths)

	md, ok := idx.Get("b.md")
	require.True(t, ok)
	assert.Equal(t, int64(len("# readme\nsecond line")), md.Size)
	assert.Equal(t, 2, md.Lines)
	assert.Equal(t, ".md", md.Extension)
	assert.Equal(t, filepath.Join(root, "b.md"), md.Path)
	assert.True(t, md.Structure.IsEmpty())
	assert.NotNil(t, md.Structure.Functions)

	goFile, ok := idx.Get("a/main.go")
	require.True(t, ok)
	require.Len(t, goFile.Structure.Functions, 1)
	assert.Equal(t, "main", goFile.Structure.Functions[0].Name)
}

func TestIndexer_BinaryDetectionOnlyChecksFirstKilobyte(t *testing.T) {
	root := t.TempDir()
	content := make([]byte, binarySniffLen+10)
	for i := range content {
		content[i] = 'a'
	}
	content[binarySniffLen+5] = 0
	writeFile(t, root, "late-null.txt", string(content))

	idx, err := NewIndexer(nil).Index(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestIndexer_InvalidUTF8IsDropped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "latin.txt", "caf\xe9 au lait")

	idx, err := NewIndexer(nil).Index(context.Background(), root)
	require.NoError(t, err)

	entry, ok := idx.Get("latin.txt")
	require.True(t, ok)
	assert.Equal(t, "caf au lait", entry.Content)
}

func TestIndexer_ParseFailureDegradesToEmptyStructure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.go", "package broken\n\nfunc (")
	writeFile(t, root, "ok.go", "package ok\n\nfunc Fine() {}\n")

	idx, err := NewIndexer(nil).Index(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())

	broken, _ := idx.Get("broken.go")
	assert.True(t, broken.Structure.IsEmpty())

	ok, _ := idx.Get("ok.go")
	assert.False(t, ok.Structure.IsEmpty())
}

func TestIndexer_CustomOptions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.cfg", "setting=1")
	writeFile(t, root, "skip.txt", "text")
	writeFile(t, root, "build/out.cfg", "generated=1")

	ix := NewIndexer(nil,
		WithExtensions(".cfg"),
		WithIgnoredSegments("build"),
		WithConcurrency(1),
	)
	idx, err := ix.Index(context.Background(), root)
	require.NoError(t, err)

	_, ok := idx.Get("keep.cfg")
	assert.True(t, ok)
	assert.Equal(t, 1, idx.Len())
}

func TestIndexer_InvalidRoot(t *testing.T) {
	ix := NewIndexer(nil)

	_, err := ix.Index(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotDirectory)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = ix.Index(context.Background(), file)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestIndexer_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIndexer(nil).Index(ctx, root)
	assert.Error(t, err)
}

func TestIndexer_ConcurrentIndexingOfSameRoot(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.go"} {
		writeFile(t, root, name, "package c\n")
	}

	ix := NewIndexer(nil)
	var wg sync.WaitGroup
	counts := make([]int, 8)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := ix.Index(context.Background(), root)
			if err == nil {
				counts[i] = idx.Len()
			}
		}(i)
	}
	wg.Wait()

	for _, c := range counts {
		assert.Equal(t, 3, c)
	}
}

func TestIndexer_CancelledCallerDoesNotFailOthers(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 400; i++ {
		writeFile(t, root, fmt.Sprintf("pkg%02d/file%03d.go", i%20, i), "package p\n\nfunc F() {}\n")
	}

	ix := NewIndexer(nil)
	ctxA, cancelA := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var errB error
	var lenB int
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = ix.Index(ctxA, root)
	}()
	go func() {
		defer wg.Done()
		idx, err := ix.Index(context.Background(), root)
		errB = err
		if err == nil {
			lenB = idx.Len()
		}
	}()
	time.Sleep(time.Millisecond)
	cancelA()
	wg.Wait()

	require.NoError(t, errB)
	assert.Equal(t, 400, lenB)
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary([]byte("plain text")))
	assert.True(t, IsBinary([]byte{'a', 0, 'b'}))
	assert.False(t, IsBinary(nil))
}

func TestNewIndex_DropsDuplicatePaths(t *testing.T) {
	idx := NewIndex("/ws",
		&FileIndexEntry{RelativePath: "a.txt", Content: "first"},
		&FileIndexEntry{RelativePath: "a.txt", Content: "second"},
	)

	assert.Equal(t, 1, idx.Len())
	entry, _ := idx.Get("a.txt")
	assert.Equal(t, "first", entry.Content)
}

func TestPrepare(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "ws")

	abs, err := Prepare(target)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	again, err := Prepare(target)
	require.NoError(t, err)
	assert.Equal(t, abs, again)
}
