//go:build linux

package owner

import (
	"path/filepath"

	"netconn-exporter/internal/conn"
	"netconn-exporter/internal/procfs"
)

// Procfs looks owners up in /proc/<pid>/comm and /proc/<pid>/exe.
type Procfs struct {
	FS procfs.FS
}

func (p Procfs) Lookup(pid uint32) (conn.Owner, bool) {
	comm, exe, err := p.FS.Process(int(pid))
	if err != nil {
		return conn.Owner{}, false
	}
	o := conn.Owner{Name: comm, Path: exe}
	// comm is truncated to 15 bytes by the kernel; prefer the binary name.
	if exe != "" {
		o.Name = filepath.Base(exe)
	}
	return o, o.Name != "" || o.Path != ""
}

func platformLookup(opts Options) Lookup {
	return Procfs{FS: procfs.FS{Root: opts.ProcfsPath}}
}
