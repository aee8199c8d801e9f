package ir

// Stack is the complete desired configuration for one deployment: the
// resources to manage plus the values exported once they exist.
type Stack struct {
	Resources []*Resource `pkl:"resources"`
	Outputs   []*Output   `pkl:"outputs"`
}

// Output declares a named value exported by the stack. Value may be a
// literal or a ptr:// reference resolved against state after apply.
type Output struct {
	Name        string `pkl:"name"`
	Value       any    `pkl:"value"`
	Description string `pkl:"description"`
}

// OutputValues returns the declared outputs as a name -> value map.
func (s *Stack) OutputValues() map[string]any {
	vals := make(map[string]any, len(s.Outputs))
	for _, o := range s.Outputs {
		vals[o.Name] = o.Value
	}
	return vals
}

// Resource returns the resource with the given type and name, or nil.
func (s *Stack) Resource(typ, name string) *Resource {
	for _, r := range s.Resources {
		if r.Type == typ && r.Name == name {
			return r
		}
	}
	return nil
}
