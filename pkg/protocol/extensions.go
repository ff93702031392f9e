package protocol

// Extensions is the side-channel of a RequestContext: string params
// extracted from path patterns, and arbitrary locals set by middleware.
//
// Extensions are owned by a single request and are not safe for concurrent
// use.
type Extensions struct {
	params map[string]string
	locals map[string]any
}

// NewExtensions returns empty extensions.
func NewExtensions() *Extensions {
	return &Extensions{}
}

// Param returns the named param, or "" when absent.
func (e *Extensions) Param(name string) string {
	return e.params[name]
}

// LookupParam returns the named param and whether it was set.
func (e *Extensions) LookupParam(name string) (string, bool) {
	v, ok := e.params[name]
	return v, ok
}

// SetParam sets a single param.
func (e *Extensions) SetParam(name, value string) {
	if e.params == nil {
		e.params = make(map[string]string)
	}
	e.params[name] = value
}

// SetParams merges params into the extensions.
func (e *Extensions) SetParams(params map[string]string) {
	for k, v := range params {
		e.SetParam(k, v)
	}
}

// Params returns a copy of all params.
func (e *Extensions) Params() map[string]string {
	out := make(map[string]string, len(e.params))
	for k, v := range e.params {
		out[k] = v
	}
	return out
}

// Get returns the local stored under key.
func (e *Extensions) Get(key string) (any, bool) {
	v, ok := e.locals[key]
	return v, ok
}

// Set stores a local under key.
func (e *Extensions) Set(key string, value any) {
	if e.locals == nil {
		e.locals = make(map[string]any)
	}
	e.locals[key] = value
}

// Delete removes a local.
func (e *Extensions) Delete(key string) {
	delete(e.locals, key)
}

// Local returns the local stored under key converted to T. A missing key
// and a value of another type both report false.
func Local[T any](e *Extensions, key string) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	v, ok := e.locals[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
