//go:build !windows

package engine

import (
	"fmt"
	"plugin"

	"github.com/ariesworks/comms/pkg/modulesdk"
)

// loadPluginProducer opens a shared object and resolves the exported
// producer symbol. The symbol may be a Producer value, a pointer to one, or
// a no-argument factory.
func loadPluginProducer(path, symbol string) (modulesdk.Producer, error) {
	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	sym, err := plug.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", symbol, err)
	}
	switch v := sym.(type) {
	case modulesdk.Producer:
		return v, nil
	case *modulesdk.Producer:
		return *v, nil
	case func() modulesdk.Producer:
		return instantiate(v)
	case *modulesdk.Factory:
		return instantiate(*v)
	default:
		return nil, fmt.Errorf("plugin symbol %s does not implement Producer", symbol)
	}
}
