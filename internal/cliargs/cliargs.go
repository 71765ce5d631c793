// Package cliargs reconciles command arguments from three sources with a
// defined precedence: explicit command-line flags win over values from the
// YAML args file, which win over flag defaults. The winning source is
// tracked per key so callers can tell an explicit value from a default.
package cliargs

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/datamastor/datamastor/internal/logger"
)

// Source identifies where a resolved argument value came from.
type Source string

const (
	// SourceFlag means the value was given explicitly on the command line.
	SourceFlag Source = "flag"
	// SourceYAML means the value came from the args file.
	SourceYAML Source = "yaml"
	// SourceDefault means the flag default was used.
	SourceDefault Source = "default"
)

// Resolution is the outcome of merging a command's flags with the args file.
type Resolution struct {
	// Unspecified holds args-file keys that match no flag of the command.
	// Spider commands consume these as extra settings and spiderargs.
	Unspecified map[string]any

	sources map[string]Source
}

// SourceOf reports which source won for the given flag name. Flags never
// touched by the resolver report SourceDefault.
func (r *Resolution) SourceOf(name string) Source {
	if src, ok := r.sources[name]; ok {
		return src
	}
	return SourceDefault
}

// Explicit reports whether the value for name was set explicitly, either on
// the command line or through the args file.
func (r *Resolution) Explicit(name string) bool {
	return r.SourceOf(name) != SourceDefault
}

// Resolver overlays a YAML args document onto cobra command flag sets.
type Resolver struct {
	doc    map[string]any
	logger logger.Interface
}

// NewResolver loads the args file at path and returns a resolver over it.
// A missing file, a disabled overlay, or a non-mapping document all degrade
// to an empty overlay with a warning, never an error.
func NewResolver(path string, disabled bool, log logger.Interface) *Resolver {
	r := &Resolver{doc: map[string]any{}, logger: log}
	if disabled {
		log.Warn("Args-file overlay is disabled, assuming no yaml args")
		return r
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Args file is not readable, assuming no yaml args",
			"path", path, "error", err)
		return r
	}
	var doc map[string]any
	if unmarshalErr := yaml.Unmarshal(data, &doc); unmarshalErr != nil || doc == nil {
		log.Warn("Args file is not a yaml mapping, assuming no yaml args",
			"path", path, "error", unmarshalErr)
		return r
	}
	r.doc = doc
	return r
}

// NewResolverFromDocument returns a resolver over an already-parsed document.
func NewResolverFromDocument(doc map[string]any, log logger.Interface) *Resolver {
	if doc == nil {
		doc = map[string]any{}
	}
	return &Resolver{doc: doc, logger: log}
}

// Resolve merges the args-file section for cmd into the command's flag set.
// The section is addressed by the command path (e.g. "dm db migrate" reads
// doc["dm"]["db"]["migrate"]). For every key in the section: an explicitly
// set flag keeps its command-line value; otherwise the yaml value replaces
// the default and is written back into the flag set so downstream code
// reads a single surface. Keys matching no flag are returned in
// Resolution.Unspecified.
func (r *Resolver) Resolve(cmd *cobra.Command) (*Resolution, error) {
	keys := strings.Fields(cmd.CommandPath())
	section := r.Section(keys...)

	res := &Resolution{
		Unspecified: map[string]any{},
		sources:     map[string]Source{},
	}

	flags := cmd.Flags()
	for key, value := range section {
		flag := flags.Lookup(key)
		if flag == nil {
			r.logger.Debug("Keeping unspecified yaml arg", "key", key, "value", value)
			res.Unspecified[key] = value
			continue
		}
		if flag.Changed {
			r.logger.Debug("Overriding yaml arg with cmdline value",
				"key", key, "yaml", value, "cmdline", flag.Value.String())
			res.sources[key] = SourceFlag
			continue
		}
		if err := setFlag(flags, flag, value); err != nil {
			return nil, fmt.Errorf("failed to apply yaml arg %q: %w", key, err)
		}
		r.logger.Debug("Using yaml arg", "key", key, "value", value)
		res.sources[key] = SourceYAML
	}

	// Flags untouched by the overlay resolve to cmdline or default.
	flags.VisitAll(func(flag *pflag.Flag) {
		if _, seen := res.sources[flag.Name]; seen {
			return
		}
		if flag.Changed {
			res.sources[flag.Name] = SourceFlag
		}
	})

	return res, nil
}

// Section walks the document along keys and returns the mapping found there.
// A missing key or a non-mapping value along the way yields an empty section
// with a warning (the overlay simply does not apply to this command).
func (r *Resolver) Section(keys ...string) map[string]any {
	node := any(r.doc)
	for i, key := range keys {
		mapping, ok := toStringMap(node)
		if !ok {
			r.logger.Warn("Args-file node is not a mapping",
				"keys", strings.Join(keys[:i], " "))
			return map[string]any{}
		}
		child, exists := mapping[key]
		if !exists {
			r.logger.Debug("Args file has no section for command",
				"keys", strings.Join(keys[:i+1], " "))
			return map[string]any{}
		}
		node = child
	}
	section, ok := toStringMap(node)
	if !ok {
		r.logger.Warn("Args-file section is not a mapping",
			"keys", strings.Join(keys, " "))
		return map[string]any{}
	}
	// Subcommand sections live alongside plain args; they are not args of
	// this command, so mappings are filtered out of the merged view.
	args := map[string]any{}
	for k, v := range section {
		if _, isMap := toStringMap(v); isMap {
			continue
		}
		args[k] = v
	}
	return args
}

// setFlag writes a yaml value into a pflag flag, formatting slices as the
// comma-separated form pflag slice values accept.
func setFlag(flags *pflag.FlagSet, flag *pflag.Flag, value any) error {
	switch v := value.(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return flags.Set(flag.Name, strings.Join(parts, ","))
	default:
		return flags.Set(flag.Name, fmt.Sprint(v))
	}
}

// toStringMap normalizes the two mapping shapes yaml.v3 produces.
func toStringMap(node any) (map[string]any, bool) {
	switch m := node.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}
