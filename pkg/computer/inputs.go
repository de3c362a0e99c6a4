package computer

import "github.com/vikashloomba/a2c-computer-go/pkg/inputs"

// AddOrUpdateInput declares or replaces an input definition. Running servers
// keep their rendered configuration until they are next applied.
func (c *Computer) AddOrUpdateInput(def inputs.Definition) error {
	return c.inputs.AddOrUpdate(def)
}

// RemoveInput deletes a definition and its cached value.
func (c *Computer) RemoveInput(id string) bool { return c.inputs.Remove(id) }

// Input returns one definition.
func (c *Computer) Input(id string) (inputs.Definition, bool) { return c.inputs.Get(id) }

// ListInputs returns every definition ordered by id.
func (c *Computer) ListInputs() []inputs.Definition { return c.inputs.List() }

// InputValue returns a cached value.
func (c *Computer) InputValue(id string) (string, bool) { return c.inputs.Value(id) }

// SetInputValue caches a value. It reports false when id is not defined.
func (c *Computer) SetInputValue(id, value string) bool { return c.inputs.SetValue(id, value) }

// DeleteInputValue drops a cached value.
func (c *Computer) DeleteInputValue(id string) bool { return c.inputs.DeleteValue(id) }

// InputValues returns a copy of the value cache.
func (c *Computer) InputValues() map[string]string { return c.inputs.Values() }

// ClearInputValues empties the value cache.
func (c *Computer) ClearInputValues() { c.inputs.ClearValues() }
