//go:build !linux

package keyboard

import "github.com/saltchicken/watch-controller/internal/dispatch"

// Open is not supported on non-Linux builds.
func Open(actions []dispatch.ActionToken, opts ...Option) (*Device, error) {
	if _, err := resolveCodes(actions); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}
