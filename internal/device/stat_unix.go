//go:build unix

package device

import "golang.org/x/sys/unix"

var platformStat StatFunc = func(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}
