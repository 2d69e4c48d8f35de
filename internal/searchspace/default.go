package searchspace

import (
	_ "embed"
	"sync"
)

//go:embed default_space.yaml
var defaultSpaceYAML []byte

var defaultSpace = sync.OnceValues(func() (*Space, error) {
	return Parse(defaultSpaceYAML)
})

// Default returns the built-in classification search space.
func Default() (*Space, error) {
	return defaultSpace()
}
