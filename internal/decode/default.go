package decode

// DefaultRegistry builds the registry a capture session starts with:
// the command layer and the radio layer with its Z-Wave MPDU inner
// registry. Sessions construct their own registry rather than sharing
// a process-wide one, so independent sessions can register different
// decoder sets.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CommandDecoder{}, 0)
	r.Register(NewRadioDecoder(), 0)
	return r
}
