package skitter

// Option holds per-operation-instance runtime settings, merged the way
// *Option.merge/join worked in the teacher: each field is a pointer so an
// unset field means "inherit", and later options in a chain win.
type Option struct {
	// FIFO is carried through option merging and topology files, but
	// no worker reads it: every worker processes one message at a time,
	// in mailbox order, whatever its value. Default: false.
	FIFO *bool
	// BufferSize sets the channel buffer used for a worker's mailbox.
	// Default: 0.
	BufferSize *int
	// Metrics toggles otel metric recording for this operation instance.
	// Default: true.
	Metrics *bool
	// Span toggles otel tracing for this operation instance.
	// Default: true.
	Span *bool
}

var defaultOption = &Option{
	FIFO:       boolP(false),
	BufferSize: intP(0),
	Metrics:    boolP(true),
	Span:       boolP(true),
}

// merge folds a chain of options left to right, each later one winning
// field-by-field over the receiver.
func (o *Option) merge(options ...*Option) *Option {
	if len(options) == 0 {
		return o
	} else if len(options) == 1 {
		return o.join(options[0])
	}
	return o.join(options[0]).merge(options[1:]...)
}

func (o *Option) join(option *Option) *Option {
	if option == nil {
		return o
	}

	out := &Option{
		FIFO:       o.FIFO,
		BufferSize: o.BufferSize,
		Metrics:    o.Metrics,
		Span:       o.Span,
	}

	if option.FIFO != nil {
		out.FIFO = option.FIFO
	}
	if option.BufferSize != nil {
		out.BufferSize = option.BufferSize
	}
	if option.Metrics != nil {
		out.Metrics = option.Metrics
	}
	if option.Span != nil {
		out.Span = option.Span
	}

	return out
}

func boolP(v bool) *bool { return &v }
func intP(v int) *int    { return &v }
