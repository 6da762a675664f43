// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/actions/createtask"
	"github.com/dukex/stepflow/pkg/actions/sendemail"
	"github.com/dukex/stepflow/pkg/actions/updatestatus"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/registry"
)

func registerActionPlugins(reg *registry.Registry, pluginsPath string) error {
	actionPlugins, err := reg.LoadActionPlugins(pluginsPath)
	if err != nil {
		return fmt.Errorf("failed to load action plugins: %w", err)
	}

	for _, plugin := range actionPlugins {
		reg.RegisterAction(plugin)
	}

	return nil
}

func registerNativeActions(reg *registry.Registry, sinks protocol.Sinks) {
	reg.RegisterAction(updatestatus.NewActionFactory(sinks.Status))
	reg.RegisterAction(createtask.NewActionFactory(sinks.Tasks))
	reg.RegisterAction(sendemail.NewActionFactory(sinks.Email))
}

// NewRegistry registers the built-in actions and then any plugin found under
// pluginsPath, so a plugin may replace a built-in action.
func NewRegistry(log *slog.Logger, sinks protocol.Sinks, pluginsPath string) (*registry.Registry, error) {
	reg := registry.New(log)

	registerNativeActions(reg, sinks)

	if pluginsPath != "" {
		if err := registerActionPlugins(reg, pluginsPath); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
