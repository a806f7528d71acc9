package shmqueue

// DefaultDirectory backs named segments on POSIX hosts
const DefaultDirectory = "/dev/shm"

type options struct {
	name      string
	directory string
	exclusive bool
}

func defaultOptions() options {
	return options{
		name:      DefaultName,
		directory: DefaultDirectory,
	}
}

// Option configures a Queue or Reader
type Option func(*options)

// WithName sets the system-wide segment name
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithDirectory sets the directory holding the segment file on POSIX hosts.
// Ignored on Windows, where segments live in the kernel object namespace.
func WithDirectory(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.directory = dir
		}
	}
}

// WithExclusiveWriter makes Create fail with ErrSegmentExists when a segment
// with the same name is already present.
//
// The check and the creation are two separate steps on Windows, so two
// writers racing can both pass it. Off by default so a new writer can take
// over a segment left behind by a previous instance.
func WithExclusiveWriter(exclusive bool) Option {
	return func(o *options) {
		o.exclusive = exclusive
	}
}
