//go:build linux

package procfs

import (
	"net"
	"net/netip"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// FS is a small helper around a procfs mount point.
//
// It covers what the exporter reads from procfs:
// - the socket tables under `net/` (tcp, tcp6, udp, udp6)
// - socket inode ownership from `<pid>/fd`
// - process comm and exe for owner module names
//
// Pointing Root at a custom directory layout (e.g. testdata) makes the
// exporter testable without a live kernel.
type FS struct {
	Root string
}

// Socket is one line of a /proc/net socket table.
type Socket struct {
	LocalAddr  netip.AddrPort
	RemoteAddr netip.AddrPort
	State      uint64 // kernel TCP state (include/net/tcp_states.h)
	UID        uint64
	Inode      uint64
}

func (fs FS) Path(rel string) string {
	return filepath.Join(fs.Root, rel)
}

func (fs FS) open() (procfs.FS, error) {
	pfs, err := procfs.NewFS(fs.Root)
	if err != nil {
		return procfs.FS{}, errors.WithMessagef(err, "failed to open procfs at %s", fs.Root)
	}
	return pfs, nil
}

// Sockets reads the table for proto, one of tcp, tcp6, udp, udp6.
func (fs FS) Sockets(proto string) ([]Socket, error) {
	pfs, err := fs.open()
	if err != nil {
		return nil, err
	}

	var out []Socket
	add := func(local net.IP, lport uint64, rem net.IP, rport uint64, st, uid, inode uint64) {
		out = append(out, Socket{
			LocalAddr:  addrPort(local, lport),
			RemoteAddr: addrPort(rem, rport),
			State:      st,
			UID:        uid,
			Inode:      inode,
		})
	}

	switch proto {
	case "tcp", "tcp6":
		var table procfs.NetTCP
		if proto == "tcp" {
			table, err = pfs.NetTCP()
		} else {
			table, err = pfs.NetTCP6()
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read %s", fs.Path("net/"+proto))
		}
		out = make([]Socket, 0, len(table))
		for _, l := range table {
			add(l.LocalAddr, l.LocalPort, l.RemAddr, l.RemPort, l.St, l.UID, l.Inode)
		}
	case "udp", "udp6":
		var table procfs.NetUDP
		if proto == "udp" {
			table, err = pfs.NetUDP()
		} else {
			table, err = pfs.NetUDP6()
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read %s", fs.Path("net/"+proto))
		}
		out = make([]Socket, 0, len(table))
		for _, l := range table {
			add(l.LocalAddr, l.LocalPort, l.RemAddr, l.RemPort, l.St, l.UID, l.Inode)
		}
	default:
		return nil, errors.Errorf("unknown socket table %q", proto)
	}
	return out, nil
}

func addrPort(ip net.IP, port uint64) netip.AddrPort {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(addr, uint16(port))
}

// SocketOwners maps socket inodes to the PID holding them. Only the inodes in
// wanted are looked up; processes whose fd directory cannot be read are
// skipped.
func (fs FS) SocketOwners(wanted map[uint64]struct{}) (map[uint64]int, error) {
	owners := make(map[uint64]int, len(wanted))
	if len(wanted) == 0 {
		return owners, nil
	}

	pfs, err := fs.open()
	if err != nil {
		return nil, err
	}
	procs, err := pfs.AllProcs()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to list processes")
	}

	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			// Process exited or we lack permission.
			continue
		}
		for _, target := range targets {
			inode, ok := socketInode(target)
			if !ok {
				continue
			}
			if _, ok := wanted[inode]; !ok {
				continue
			}
			if _, dup := owners[inode]; !dup {
				owners[inode] = p.PID
			}
		}
		if len(owners) == len(wanted) {
			break
		}
	}
	return owners, nil
}

// socketInode parses an fd link target of the form "socket:[12345]".
func socketInode(target string) (uint64, bool) {
	rest, ok := strings.CutPrefix(target, "socket:[")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Process returns the command name and executable path of pid. Either may be
// empty when it cannot be read.
func (fs FS) Process(pid int) (comm, exe string, err error) {
	pfs, err := fs.open()
	if err != nil {
		return "", "", err
	}
	p, err := pfs.Proc(pid)
	if err != nil {
		return "", "", errors.WithMessagef(err, "failed to open process %d", pid)
	}
	comm, commErr := p.Comm()
	exe, exeErr := p.Executable()
	if commErr != nil && exeErr != nil {
		return "", "", errors.WithMessagef(commErr, "failed to read process %d", pid)
	}
	return comm, exe, nil
}
