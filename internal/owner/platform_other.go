//go:build !linux

package owner

func platformLookup(Options) Lookup {
	return Psutil{}
}
