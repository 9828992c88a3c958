package journal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"
)

const (
	MaxEntries  = 10000
	readTimeout = 10 * time.Second
	timeLayout  = "2006-01-02 15:04:05.000"
)

// mihomo writes logrus text lines: time="..." level=info msg="..."
var logFieldRegex = regexp.MustCompile(`(\w+)=("(?:[^"\\]|\\.)*"|\S+)`)

// Entry is one line of service output
type Entry struct {
	Timestamp string
	Level     string
	Message   string
	PID       string
}

// ReadUnitLogs returns up to count of the newest journal entries for the unit,
// oldest first
func ReadUnitLogs(unitName string, count int) ([]Entry, error) {
	if count <= 0 {
		return nil, nil
	}
	if count > MaxEntries {
		count = MaxEntries
	}

	j, err := sdjournal.NewJournal()
	if err != nil {
		return nil, fmt.Errorf("failed to open systemd journal: %w", err)
	}
	defer j.Close()

	if err := j.AddMatch("_SYSTEMD_UNIT=" + unitName); err != nil {
		return nil, fmt.Errorf("failed to add systemd unit match: %w", err)
	}

	if err := j.SeekTail(); err != nil {
		return nil, fmt.Errorf("failed to seek to end of journal: %w", err)
	}

	var entries []Entry
	deadline := time.Now().Add(readTimeout)

	// Newest first
	for len(entries) < count && time.Now().Before(deadline) {
		n, err := j.Previous()
		if err != nil {
			return nil, fmt.Errorf("failed to read previous journal entry: %w", err)
		}
		if n == 0 {
			break
		}

		raw, err := j.GetEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to get journal entry: %w", err)
		}

		message := raw.Fields[sdjournal.SD_JOURNAL_FIELD_MESSAGE]
		if message == "" {
			continue
		}

		entry := ParseLine(message)
		entry.PID = raw.Fields[sdjournal.SD_JOURNAL_FIELD_PID]
		if entry.Timestamp == "" && raw.RealtimeTimestamp != 0 {
			entry.Timestamp = time.UnixMicro(int64(raw.RealtimeTimestamp)).Format(timeLayout)
		}
		if entry.Level == "" {
			entry.Level = priorityToLevel(raw.Fields[sdjournal.SD_JOURNAL_FIELD_PRIORITY])
		}

		entries = append(entries, entry)
	}

	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}

// ParseLine splits a mihomo log line into its fields. Lines that are not in
// key=value form are kept whole as the message.
func ParseLine(line string) Entry {
	line = strings.TrimSpace(line)
	fields := map[string]string{}
	for _, m := range logFieldRegex.FindAllStringSubmatch(line, -1) {
		fields[m[1]] = unquote(m[2])
	}

	msg, ok := fields["msg"]
	if !ok {
		return Entry{Message: line}
	}

	entry := Entry{
		Level:   strings.ToUpper(fields["level"]),
		Message: msg,
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["time"]); err == nil {
		entry.Timestamp = ts.Local().Format(timeLayout)
	}
	return entry
}

func unquote(value string) string {
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
		value = strings.ReplaceAll(value, `\"`, `"`)
		value = strings.ReplaceAll(value, `\\`, `\`)
	}
	return value
}

// priorityToLevel converts systemd journal priority to log level string
func priorityToLevel(priority string) string {
	switch priority {
	case "0":
		return "EMERG"
	case "1":
		return "ALERT"
	case "2":
		return "CRIT"
	case "3":
		return "ERROR"
	case "4":
		return "WARNING"
	case "5":
		return "NOTICE"
	case "7":
		return "DEBUG"
	default:
		return "INFO"
	}
}
