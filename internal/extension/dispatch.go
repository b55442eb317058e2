package extension

import "fmt"

// guard runs fn, converting a panic in module code into an error.
// Every call into a module's entry points goes through here so a
// module-side fault cannot unwind into host control flow. A hang is
// not guarded against: a hanging callback hangs the host.
func guard(name, op string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module %s: %s faulted: %v", name, op, r)
		}
	}()
	fn()
	return nil
}
