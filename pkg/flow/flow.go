// Package flow handles parsing and representation of touchflow YAML flow files.
package flow

// Flow represents a parsed flow file.
type Flow struct {
	SourcePath string // Path to the source file
	Config     Config // Flow configuration (name, env, ...)
	Steps      []Step // Steps to execute
}

// Config represents flow-level configuration (the optional first YAML document).
type Config struct {
	Name    string            `yaml:"name"`
	AppID   string            `yaml:"appId"`
	URL     string            `yaml:"url"` // Web app URL for the browser driver
	Tags    []string          `yaml:"tags"`
	Env     map[string]string `yaml:"env"`
	Timeout int               `yaml:"timeout"` // Flow timeout in ms
}

// DisplayName returns the flow name, falling back to the source path.
func (f *Flow) DisplayName() string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	return f.SourcePath
}

// ShouldIncludeFlow reports whether a flow passes tag filters: it needs one of
// includeTags (when any are given) and none of excludeTags.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 && !hasAnyTag(flow, includeTags) {
		return false
	}
	return !hasAnyTag(flow, excludeTags)
}

func hasAnyTag(flow *Flow, tags []string) bool {
	for _, tag := range flow.Config.Tags {
		for _, want := range tags {
			if tag == want {
				return true
			}
		}
	}
	return false
}
