package ir

// Resource represents a single managed resource.
type Resource struct {
	Type       string         `pkl:"type"` // e.g., "aws:EC2.Subnet"
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle"`
	DependsOn  []string       `pkl:"dependsOn"`
	Timeout    string         `pkl:"timeout"` // Go duration string; empty means the engine default
	Properties map[string]any `pkl:"properties"` // Dynamic properties
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}
