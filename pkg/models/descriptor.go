package models

// PluginDescriptor is the parsed content of a plugin's plugin.json.
type PluginDescriptor struct {
	ID                 string   `json:"id,omitempty" validate:"omitempty,max=100,plugin_slug"`
	Name               string   `json:"name,omitempty" validate:"max=100"`
	Version            string   `json:"version,omitempty" validate:"max=30"`
	Author             string   `json:"author,omitempty" validate:"max=120"`
	URL                string   `json:"url,omitempty" validate:"omitempty,url,max=255"`
	Description        string   `json:"description,omitempty" validate:"max=400"`
	Namespace          string   `json:"namespace" validate:"required,max=200"`
	EntryPoint         string   `json:"entry_point" validate:"required,max=250"`
	Requires           []string `json:"requires,omitempty" validate:"max=10"`
	MinimumHostVersion string   `json:"minimum_host_version,omitempty" validate:"omitempty,host_version"`
	Ready              *bool    `json:"ready,omitempty"`

	// Dir is the plugin directory name, which is the identifier lifecycle operations use.
	Dir string `json:"-"`
}

// IsReady reports the publisher readiness flag; an absent flag means ready.
func (d *PluginDescriptor) IsReady() bool {
	return d.Ready == nil || *d.Ready
}

// DisplayName falls back to the directory name when the manifest has no name.
func (d *PluginDescriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Dir
}
