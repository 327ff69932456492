//go:build !windows

package doctor

import "os/exec"

// resetTerminal restores cooked mode after the raw-mode device picker.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
