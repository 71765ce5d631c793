package spider

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Priority ranks where a setting value came from. A value only replaces an
// existing one when it arrives with at least the stored priority.
type Priority int

const (
	// PriorityDefault is the project-wide default.
	PriorityDefault Priority = 0
	// PrioritySpec is a value the spider's definition declares.
	PrioritySpec Priority = 10
	// PriorityDynamic is a value computed for the run, such as the log file
	// path derived from the output directory.
	PriorityDynamic Priority = 20
	// PriorityCmdline is an explicit command-line or args-file value.
	PriorityCmdline Priority = 40
)

// String returns the priority's provenance label.
func (p Priority) String() string {
	switch p {
	case PriorityDefault:
		return "default"
	case PrioritySpec:
		return "spec"
	case PriorityDynamic:
		return "dynamic"
	case PriorityCmdline:
		return "cmdline"
	default:
		return "unknown"
	}
}

// Setting keys the spiders understand.
const (
	SettingOutDir    = "OUT_DIR"
	SettingDontStore = "DONT_STORE"
	SettingNow       = "NOW"
	SettingLogFile   = "LOG_FILE"
	SettingFeed      = "FEED"
	SettingUserAgent = "USER_AGENT"
)

// knownSettings are the keys accepted from -s/--set and the args file.
var knownSettings = map[string]bool{
	SettingOutDir:    true,
	SettingDontStore: true,
	SettingNow:       true,
	SettingLogFile:   true,
	SettingFeed:      true,
	SettingUserAgent: true,
}

type settingEntry struct {
	value    any
	priority Priority
}

// Settings is a priority-layered key-value store for crawl settings.
type Settings struct {
	values map[string]settingEntry
}

// NewSettings creates an empty settings store.
func NewSettings() *Settings {
	return &Settings{values: map[string]settingEntry{}}
}

// Set stores value under key when priority is at least the stored entry's
// priority. It reports whether the value was stored.
func (s *Settings) Set(key string, value any, priority Priority) bool {
	if existing, ok := s.values[key]; ok && priority < existing.priority {
		return false
	}
	s.values[key] = settingEntry{value: value, priority: priority}
	return true
}

// SetDynamic stores a computed value, but only over a default. Dynamic
// values never displace what the spider definition or the command line
// provided.
func (s *Settings) SetDynamic(key string, value any) bool {
	if existing, ok := s.values[key]; ok && existing.priority > PriorityDefault {
		return false
	}
	s.values[key] = settingEntry{value: value, priority: PriorityDynamic}
	return true
}

// Get returns the value stored under key.
func (s *Settings) Get(key string) (any, bool) {
	entry, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// GetString returns the value under key rendered as a string.
func (s *Settings) GetString(key string) string {
	value, ok := s.Get(key)
	if !ok {
		return ""
	}
	if str, isStr := value.(string); isStr {
		return str
	}
	return toString(value)
}

// GetBool returns the value under key interpreted as a bool. String values
// go through strconv.ParseBool; anything unparsable is false.
func (s *Settings) GetBool(key string) bool {
	value, ok := s.Get(key)
	if !ok {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	default:
		return false
	}
}

// Priority returns the provenance of the value stored under key.
func (s *Settings) Priority(key string) (Priority, bool) {
	entry, ok := s.values[key]
	if !ok {
		return 0, false
	}
	return entry.priority, true
}

// Keys returns the stored keys in sorted order.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// AtPriority returns the key-value pairs stored with exactly the given
// priority.
func (s *Settings) AtPriority(priority Priority) map[string]any {
	out := map[string]any{}
	for key, entry := range s.values {
		if entry.priority == priority {
			out[key] = entry.value
		}
	}
	return out
}

func toString(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}
