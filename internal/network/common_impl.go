package network

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"grimm.is/netstate/internal/validation"
)

// DefaultSystemController is the default RealSystemController instance.
var DefaultSystemController SystemController = &RealSystemController{}

// DefaultCommandExecutor is the default RealCommandExecutor instance.
var DefaultCommandExecutor CommandExecutor = &RealCommandExecutor{}

// RealSystemController is a concrete implementation of SystemController using os functions.
type RealSystemController struct{}

func sysctlPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/proc/sys/" + strings.ReplaceAll(path, ".", "/")
	}
	return path
}

// ReadSysctl reads a sysctl or sysfs value.
func (r *RealSystemController) ReadSysctl(path string) (string, error) {
	data, err := os.ReadFile(sysctlPath(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteSysctl writes a sysctl or sysfs value.
func (r *RealSystemController) WriteSysctl(path, value string) error {
	path = sysctlPath(path)
	if err := validation.ValidatePath(path, validation.SysctlDirs); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(value), 0644)
}

// IsNotExist checks if an error indicates that a file or directory does not exist.
func (r *RealSystemController) IsNotExist(err error) bool {
	return os.IsNotExist(err)
}

// RealCommandExecutor is a concrete implementation of CommandExecutor using os/exec.
type RealCommandExecutor struct {
	// Ctx bounds every command; nil means no deadline.
	Ctx context.Context
}

// RunCommand runs a command and returns its combined output.
func (r *RealCommandExecutor) RunCommand(name string, arg ...string) (string, error) {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, name, arg...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("command %s %v failed: %w, output: %s", name, arg, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
