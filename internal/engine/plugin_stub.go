//go:build windows

package engine

import (
	"fmt"

	"github.com/ariesworks/comms/pkg/modulesdk"
)

func loadPluginProducer(path, symbol string) (modulesdk.Producer, error) {
	return nil, fmt.Errorf("shared object plugins are not supported on this platform (%s)", path)
}
