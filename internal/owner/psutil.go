package owner

import (
	"path/filepath"

	"github.com/shirou/gopsutil/process"

	"netconn-exporter/internal/conn"
)

// Psutil looks owners up through gopsutil. It works on every platform
// gopsutil supports; the module name falls back to the executable's base name
// when the process name cannot be read.
type Psutil struct{}

func (Psutil) Lookup(pid uint32) (conn.Owner, bool) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return conn.Owner{}, false
	}
	var o conn.Owner
	if exe, err := p.Exe(); err == nil {
		o.Path = exe
	}
	if name, err := p.Name(); err == nil {
		o.Name = name
	} else if o.Path != "" {
		o.Name = filepath.Base(o.Path)
	}
	return o, o.Name != "" || o.Path != ""
}
