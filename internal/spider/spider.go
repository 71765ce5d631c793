// Package spider implements the crawl side of datamastor: a registry of
// spiders declared per shop and kind, priority-layered crawl settings, and
// a colly-backed runner that turns pages into source and listing items.
package spider

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/datamastor/datamastor/internal/config"
	"github.com/datamastor/datamastor/internal/logger"
)

// Spider argument names.
const (
	ArgURL      = "url"
	ArgSaveHTML = "save_html"
)

// runTimestampFormat names the per-run output directory.
const runTimestampFormat = "20060102_150405"

// nowFormats are the accepted layouts for an explicit run timestamp.
var nowFormats = []string{
	runTimestampFormat,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseNow parses an explicit run timestamp in one of the accepted layouts.
func ParseNow(raw string) (time.Time, error) {
	for _, layout := range nowFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadNow, raw)
}

// usedArgsFile records the run's explicit settings and args in the output
// directory.
const usedArgsFile = "used_args.yml"

// Options carries the per-run inputs a spider is built from: explicit
// command-line values, the args-file leftovers, and the run switches.
type Options struct {
	// Settings are explicit -s/--set KEY=VALUE pairs.
	Settings map[string]string
	// Args are explicit -a/--arg name=value pairs.
	Args map[string]string
	// Extra are args-file keys that matched no flag. Upper-case keys join
	// the settings, the rest join the args; neither overwrites an explicit
	// value.
	Extra map[string]any
	// URL overrides the declared start URLs with a single one.
	URL string
	// SaveHTML writes every fetched page into the output directory.
	SaveHTML bool
	// Now overrides the run timestamp.
	Now time.Time
	// DontStore validates the scraped items and then discards them.
	DontStore bool
	// Logger defaults to the no-op logger.
	Logger logger.Interface
}

// Spider is one configured crawl run.
type Spider struct {
	Spec     *Spec
	Settings *Settings
	Args     map[string]string
	RunID    string

	cfg       *config.CrawlerConfig
	logger    logger.Interface
	local     bool
	localDir  string
	startURLs []string
	outDirOK  bool
}

// New builds a spider for the given spec, layering settings from the
// project defaults, the spec, the computed run values, and the explicit
// overrides, in that order of priority.
func New(spec *Spec, cfg *config.CrawlerConfig, opts Options) (*Spider, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOp()
	}

	now := opts.Now
	nowExplicit := !now.IsZero()
	if !nowExplicit {
		now = time.Now()
	}

	s := &Spider{
		Spec:     spec,
		Settings: NewSettings(),
		Args:     map[string]string{},
		RunID:    uuid.New().String(),
		cfg:      cfg,
		logger:   log.WithSpider(spec.Name),
	}

	// Project defaults.
	s.Settings.Set(SettingUserAgent, cfg.UserAgent, PriorityDefault)
	s.Settings.Set(SettingDontStore, false, PriorityDefault)

	// Spec values.
	s.Settings.Set(SettingNow, now, PrioritySpec)

	// Args-file leftovers land below explicit values of the same priority;
	// applying them first lets an explicit Set of the same key win.
	for key, value := range opts.Extra {
		if key == strings.ToUpper(key) && key != "" {
			s.Settings.Set(key, value, PriorityCmdline)
			s.logger.Debug("Extra settings key from args file", "key", key)
		} else if _, exists := opts.Args[key]; !exists {
			s.Args[key] = toString(value)
			s.logger.Debug("Extra spiderarg from args file", "key", key)
		}
	}

	// Explicit command-line values.
	for key, value := range opts.Settings {
		if !knownSettings[key] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
		}
		s.Settings.Set(key, value, PriorityCmdline)
	}
	if nowExplicit {
		s.Settings.Set(SettingNow, now, PriorityCmdline)
	}
	if opts.DontStore {
		s.Settings.Set(SettingDontStore, true, PriorityCmdline)
	}
	for key, value := range opts.Args {
		if !s.knownArg(key) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSpiderArg, key)
		}
		s.Args[key] = value
	}
	if opts.URL != "" {
		s.Args[ArgURL] = opts.URL
	}
	if opts.SaveHTML {
		s.Args[ArgSaveHTML] = "true"
	}

	// A NOW given as a string (via -s or the args file) is parsed into a
	// time value so the run timestamp is consistent everywhere.
	if raw, ok := s.Settings.Get(SettingNow); ok {
		if str, isStr := raw.(string); isStr {
			parsed, parseErr := ParseNow(str)
			if parseErr != nil {
				return nil, parseErr
			}
			priority, _ := s.Settings.Priority(SettingNow)
			s.Settings.Set(SettingNow, parsed, priority)
		}
	}

	// The output directory follows the final run timestamp. Set stays a
	// no-op when the command line already pinned the key.
	outDir := filepath.Join(cfg.OutDirBase, spec.Name, s.Now().Format(runTimestampFormat))
	s.Settings.Set(SettingOutDir, outDir, PrioritySpec)

	// Computed values, discarded when the spec or the command line already
	// pinned the key.
	finalOut := s.Settings.GetString(SettingOutDir)
	if !s.Settings.SetDynamic(SettingLogFile, filepath.Join(finalOut, "run.log")) {
		s.logger.Debug("Discarding dynamic setting", "key", SettingLogFile)
	}
	if !s.Settings.SetDynamic(SettingFeed, filepath.Join(finalOut, "feed.json")) {
		s.logger.Debug("Discarding dynamic setting", "key", SettingFeed)
	}

	if err := s.resolveStartURLs(); err != nil {
		return nil, err
	}
	return s, nil
}

// knownArg reports whether the spider accepts the named argument. Source
// spiders additionally take the three-level include/exclude filters.
func (s *Spider) knownArg(name string) bool {
	if name == ArgURL || name == ArgSaveHTML {
		return true
	}
	if s.Spec.Kind == KindSrc {
		switch name {
		case "include1", "include2", "include3", "exclude1", "exclude2", "exclude3":
			return true
		}
	}
	return false
}

// resolveStartURLs applies the url argument, detects local mode, and
// normalizes local paths to file URLs.
func (s *Spider) resolveStartURLs() error {
	urls := s.Spec.Fields.StartURLs
	if override := s.Args[ArgURL]; override != "" {
		urls = []string{override}
	}
	if len(urls) == 0 {
		if s.Spec.Kind == KindLst {
			return fmt.Errorf("%w: spider %q", ErrNoStartURLs, s.Spec.Name)
		}
		return nil
	}

	localCount := 0
	for _, raw := range urls {
		if isLocalURL(raw) {
			localCount++
		}
	}
	if localCount == 0 {
		s.startURLs = urls
		return nil
	}
	if localCount != len(urls) {
		return fmt.Errorf("%w: spider %q", ErrMixedStartURLs, s.Spec.Name)
	}

	s.local = true
	s.startURLs = make([]string, 0, len(urls))
	for _, raw := range urls {
		normalized, dir, err := localizeURL(raw)
		if err != nil {
			return fmt.Errorf("bad local start url %q: %w", raw, err)
		}
		if s.localDir == "" {
			s.localDir = dir
		} else if s.localDir != dir {
			return fmt.Errorf("%w: %q and %q", ErrMultipleLocalDirs, s.localDir, dir)
		}
		s.startURLs = append(s.startURLs, normalized)
	}
	s.logger.Info("Running in local mode", "dir", s.localDir)
	return nil
}

// isLocalURL treats file URLs and bare paths as local.
func isLocalURL(raw string) bool {
	return strings.HasPrefix(raw, "file://") || !strings.Contains(raw, "://")
}

// localizeURL normalizes a local start URL to file:///abs/path and returns
// it with its directory. The file must exist, so a typoed path fails the
// run instead of crawling nothing.
func localizeURL(raw string) (normalized, dir string, err error) {
	path := strings.TrimPrefix(raw, "file://")
	if parsed, parseErr := url.Parse(raw); parseErr == nil && parsed.Scheme == "file" {
		path = parsed.Path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	if _, statErr := os.Stat(abs); statErr != nil {
		return "", "", statErr
	}
	return "file://" + abs, filepath.Dir(abs), nil
}

// Local reports whether the run reads local files instead of the network.
func (s *Spider) Local() bool { return s.local }

// StartURLs returns the normalized URLs the run starts from.
func (s *Spider) StartURLs() []string { return s.startURLs }

// OutDir returns the run's output directory.
func (s *Spider) OutDir() string { return s.Settings.GetString(SettingOutDir) }

// LogFile returns the run's log file path.
func (s *Spider) LogFile() string { return s.Settings.GetString(SettingLogFile) }

// FeedPath returns where the run's feed is written.
func (s *Spider) FeedPath() string { return s.Settings.GetString(SettingFeed) }

// DontStore reports whether scraped items are validated but not committed.
func (s *Spider) DontStore() bool { return s.Settings.GetBool(SettingDontStore) }

// SaveHTML reports whether fetched pages are written to the output
// directory.
func (s *Spider) SaveHTML() bool { return s.Args[ArgSaveHTML] == "true" }

// Now returns the run timestamp.
func (s *Spider) Now() time.Time {
	if now, ok := s.Settings.Get(SettingNow); ok {
		if t, isTime := now.(time.Time); isTime {
			return t
		}
	}
	return time.Now()
}

// EnsureOutDir creates the run's output directory. A pre-existing
// directory is an error, so runs never overwrite each other's output.
func (s *Spider) EnsureOutDir() error {
	if s.outDirOK {
		return nil
	}
	dir := s.OutDir()
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %q", ErrOutDirExists, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	s.outDirOK = true
	return nil
}

// WriteUsedArgs records the run's explicit settings and spiderargs in the
// output directory, keyed by spider name.
func (s *Spider) WriteUsedArgs() error {
	if err := s.EnsureOutDir(); err != nil {
		return err
	}

	settings := map[string]any{}
	for key, value := range s.Settings.AtPriority(PriorityCmdline) {
		if t, isTime := value.(time.Time); isTime {
			value = t.Format(time.RFC3339)
		}
		settings[key] = value
	}
	doc := map[string]any{
		s.Spec.Name: map[string]any{
			"run_id":   s.RunID,
			"settings": settings,
			"args":     s.Args,
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal used args: %w", err)
	}
	path := filepath.Join(s.OutDir(), usedArgsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write used args: %w", err)
	}
	s.logger.Debug("Wrote used args", "path", path)
	return nil
}

// Describe renders the resolved settings and args for --test-cli output.
func (s *Spider) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "spider: %s (run %s)\n", s.Spec.Name, s.RunID)
	fmt.Fprintf(&b, "settings:\n")
	for _, key := range s.Settings.Keys() {
		value, _ := s.Settings.Get(key)
		priority, _ := s.Settings.Priority(key)
		fmt.Fprintf(&b, "  %s = %v (%s)\n", key, value, priority)
	}
	fmt.Fprintf(&b, "args:\n")
	argNames := make([]string, 0, len(s.Args))
	for name := range s.Args {
		argNames = append(argNames, name)
	}
	sort.Strings(argNames)
	for _, name := range argNames {
		fmt.Fprintf(&b, "  %s = %s\n", name, s.Args[name])
	}
	if len(s.startURLs) > 0 {
		fmt.Fprintf(&b, "start urls:\n")
		for _, u := range s.startURLs {
			fmt.Fprintf(&b, "  %s\n", u)
		}
	}
	return b.String()
}
