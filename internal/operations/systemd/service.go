package systemd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
)

// ServiceStatus is the parsed output of `systemctl status`
type ServiceStatus struct {
	Loaded  string
	Active  string
	MainPID string
	Tasks   string
	Memory  string
	CPU     string
	CGroup  []string
}

// UnitName appends the .service suffix when missing
func UnitName(serviceName string) string {
	if !strings.HasSuffix(serviceName, ".service") {
		return serviceName + ".service"
	}
	return serviceName
}

func cleanCGroupLine(line string) string {
	line = strings.TrimPrefix(line, "├─")
	line = strings.TrimPrefix(line, "└─")
	line = strings.TrimPrefix(line, "│")
	return strings.TrimSpace(line)
}

func parseServiceStatus(output string) *ServiceStatus {
	status := &ServiceStatus{}
	scanner := bufio.NewScanner(strings.NewReader(output))

	var cgroupLines []string
	inCGroupSection := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if inCGroupSection {
			if !strings.HasPrefix(line, "├") && !strings.HasPrefix(line, "└") && !strings.HasPrefix(line, "│") {
				inCGroupSection = false
			} else {
				cgroupLines = append(cgroupLines, cleanCGroupLine(line))
				continue
			}
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "Loaded":
			status.Loaded = value
		case "Active":
			status.Active = value
		case "Main PID":
			status.MainPID = value
		case "Tasks":
			status.Tasks = value
		case "Memory":
			status.Memory = value
		case "CPU":
			status.CPU = value
		case "CGroup":
			inCGroupSection = true
			cgroupLines = append(cgroupLines, value)
		}
	}

	if len(cgroupLines) > 0 {
		status.CGroup = cgroupLines
	}

	return status
}

// GetServiceStatus runs `systemctl status` and parses what it prints
func GetServiceStatus(ctx context.Context, serviceName string, runner cmdrunner.CommandRunner) (*ServiceStatus, error) {
	serviceName = UnitName(serviceName)

	// systemctl status exits non-zero for inactive or failed units
	output, err := runner.RunWithOutputNoErrLog(ctx, "systemctl", "status", "--no-pager", serviceName)
	if err != nil {
		if len(output) > 0 && !strings.Contains(string(output), "could not be found") {
			return parseServiceStatus(string(output)), nil
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	return parseServiceStatus(string(output)), nil
}
