package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/haskel/petmood/internal/config"
)

var pidFile string

// resolvePIDFile returns --pid-file or the path from config.
func resolvePIDFile() (string, error) {
	if pidFile != "" {
		return pidFile, nil
	}
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return "", err
	}
	if cfg.Server.PIDFile == "" {
		return "", errors.New("no PID file specified (use --pid-file or configure server.pid_file)")
	}
	return cfg.Server.PIDFile, nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("PID file not found: %s (server may not be running)", path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", s)
	}
	return pid, nil
}

func writePID(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// signalServer sends sig to the process named in the PID file.
func signalServer(sig syscall.Signal) (int, error) {
	path, err := resolvePIDFile()
	if err != nil {
		return 0, err
	}
	pid, err := readPID(path)
	if err != nil {
		return 0, err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("process not found: %d", pid)
	}
	if err := process.Signal(sig); err != nil {
		return 0, fmt.Errorf("failed to send %s to %d: %w", sig, pid, err)
	}
	return pid, nil
}
