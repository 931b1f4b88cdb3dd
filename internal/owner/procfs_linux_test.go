//go:build linux

package owner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/procfs"
)

func TestProcfsLookup(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "321")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte("systemd-resolve\n"), 0o644))
	require.NoError(t, os.Symlink("/usr/lib/systemd/systemd-resolved", filepath.Join(dir, "exe")))

	dir = filepath.Join(root, "2")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte("kthreadd\n"), 0o644))

	p := Procfs{FS: procfs.FS{Root: root}}

	o, ok := p.Lookup(321)
	require.True(t, ok)
	assert.Equal(t, conn.Owner{Name: "systemd-resolved", Path: "/usr/lib/systemd/systemd-resolved"}, o)

	o, ok = p.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, conn.Owner{Name: "kthreadd"}, o)

	_, ok = p.Lookup(999)
	assert.False(t, ok)
}

func TestNewUsesProcfs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "10")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte("chronyd\n"), 0o644))

	r, closeFn := New(Options{ProcfsPath: root})
	defer closeFn()

	row := rowFor(10)
	o, ok := r.Resolve(row, conn.UDPv4)
	require.True(t, ok)
	assert.Equal(t, "chronyd", o.Name)
}
