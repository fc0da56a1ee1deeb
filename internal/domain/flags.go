package domain

// Flags is the read-only feature-flag lookup consulted by the waterfall and
// the tool catalog.
type Flags interface {
	IsEnabled(name string) bool
}

// FlagFunc adapts a function to the Flags interface.
type FlagFunc func(name string) bool

func (f FlagFunc) IsEnabled(name string) bool { return f(name) }
