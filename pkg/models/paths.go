package models

// Canonical host paths. Every one of them can be overridden through options.
const (
	BinaryPath     = "/usr/local/bin/mihomo"
	ConfigDir      = "/etc/mihomo"
	ConfigFileName = "config.yaml"
	UIDirName      = "ui"
	SystemdPath    = "/etc/systemd/system"
	ServiceName    = "mihomo"
	EnvFilePath    = "/etc/mihomo/installer.env"
	LogFilePath    = "/var/log/mihomo-installer.log"
)

// BackupTimeFormat is appended to backups of overwritten files.
const BackupTimeFormat = "2006-01-02_15-04-05"
