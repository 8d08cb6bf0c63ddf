package supervisor

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// forceUnmount detaches a mount that no worker of ours owns.
func forceUnmount(mountPoint string) error {
	var commands [][]string
	if runtime.GOOS == "darwin" {
		commands = [][]string{
			{"umount", mountPoint},
			{"diskutil", "unmount", mountPoint},
		}
	} else {
		commands = [][]string{
			{"fusermount", "-uz", mountPoint},
		}
	}

	var lastErr error
	for _, args := range commands {
		output, err := exec.Command(args[0], args[1:]...).CombinedOutput()
		if err == nil {
			log.Info().Str("mount_point", mountPoint).Str("command", args[0]).Msg("unmounted")
			return nil
		}
		lastErr = fmt.Errorf("%s returned %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	return lastErr
}
