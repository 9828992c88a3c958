package template

import (
	"fmt"
	"strconv"

	"github.com/coreos/go-systemd/v22/unit"
)

const serviceCapabilities = "CAP_NET_ADMIN CAP_NET_RAW CAP_NET_BIND_SERVICE CAP_SYS_TIME CAP_SYS_PTRACE CAP_DAC_READ_SEARCH CAP_DAC_OVERRIDE"

// UnitParams fills the mihomo service unit
type UnitParams struct {
	BinaryPath string
	ConfigDir  string
	RestartSec int
}

// MihomoUnit returns the options of the mihomo service unit, in file order
func MihomoUnit(p UnitParams) []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "mihomo Daemon, Another Clash Kernel."),
		unit.NewUnitOption("Unit", "After", "network.target NetworkManager.service systemd-networkd.service iwd.service"),

		unit.NewUnitOption("Service", "Type", "simple"),
		unit.NewUnitOption("Service", "LimitNPROC", "500"),
		unit.NewUnitOption("Service", "LimitNOFILE", "1000000"),
		unit.NewUnitOption("Service", "CapabilityBoundingSet", serviceCapabilities),
		unit.NewUnitOption("Service", "AmbientCapabilities", serviceCapabilities),
		unit.NewUnitOption("Service", "WorkingDirectory", p.ConfigDir),
		unit.NewUnitOption("Service", "Restart", "always"),
		unit.NewUnitOption("Service", "RestartSec", strconv.Itoa(p.RestartSec)),
		unit.NewUnitOption("Service", "ExecStartPre", "/usr/bin/sleep 1s"),
		unit.NewUnitOption("Service", "ExecStart", fmt.Sprintf("%s -d %s", p.BinaryPath, p.ConfigDir)),
		unit.NewUnitOption("Service", "ExecReload", "/bin/kill -HUP $MAINPID"),

		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
}
