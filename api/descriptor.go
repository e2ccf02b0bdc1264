package api

// Manifest lists the units a launchpad instance deploys.
type Manifest struct {
	// Version of the manifest format.
	Version string `json:"version"`
	// Units to synthesize and serve, in deployment order.
	Units []Unit `json:"units,omitempty"`
}

// Unit describes one deployed application or module whose launch document
// and artifacts are synthesized and served.
type Unit struct {
	// Name of the application. Required.
	Name string `json:"name"`
	// Module is the nested module name; empty for a standalone client.
	Module string `json:"module,omitempty"`
	// ContextRoot is the URI prefix the unit's content is served under.
	// Derived from Name and Module when empty.
	ContextRoot string `json:"context_root,omitempty"`

	Title     string `json:"title,omitempty"`
	Vendor    string `json:"vendor,omitempty"`
	MainClass string `json:"main_class,omitempty"`

	// SigningAlias selects the signing identity. Empty means the configured default.
	SigningAlias string `json:"signing_alias,omitempty"`

	// Artifact paths, relative to the artifacts filesystem.
	MainJar       string   `json:"main_jar,omitempty"`
	FacadeJar     string   `json:"facade_jar,omitempty"`
	NestedFacades []string `json:"nested_facades,omitempty"`

	// DeveloperDocument is the path of the developer's override launch
	// document, relative to the developer filesystem. Optional.
	DeveloperDocument string `json:"developer_document,omitempty"`

	// Properties are extra template tokens.
	Properties map[string]string `json:"properties,omitempty"`

	// Disabled units are synthesized but not started.
	Disabled bool `json:"disabled,omitempty"`
}
