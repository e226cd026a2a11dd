package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/roffe/canconf"
	"go.bug.st/serial/enumerator"
)

const connectAttempts = 3

// initCAN creates the configured adapter and connects it through a manager,
// which logs the adapter's events.
func initCAN(ctx context.Context) (*canconf.Manager, error) {
	adapter, err := canconf.NewAdapter(cfg.Adapter.Name, &canconf.AdapterConfig{
		Debug:        cfg.Adapter.Debug,
		PortBaudrate: cfg.Adapter.Baudrate,
	})
	if err != nil {
		return nil, err
	}
	return connect(ctx, adapter)
}

func connect(ctx context.Context, adapter canconf.Adapter) (*canconf.Manager, error) {
	rate, err := cfg.Rate()
	if err != nil {
		return nil, err
	}
	port := cfg.Adapter.Port
	if port == "" || port == "*" {
		port = ""
		if requiresSerialPort(adapter.Name()) {
			if port, err = selectPort(); err != nil {
				return nil, err
			}
		}
	}

	m := canconf.NewManager()
	if err := m.ConnectRetry(ctx, adapter, port, rate, connectAttempts); err != nil {
		return nil, err
	}
	return m, nil
}

func requiresSerialPort(name string) bool {
	for _, a := range canconf.ListAdapters() {
		if strings.EqualFold(a.Name, name) {
			return a.RequiresSerialPort
		}
	}
	return false
}

// selectPort asks which serial port to use, picking the only one without
// asking.
func selectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	if len(ports) == 1 {
		return ports[0].Name, nil
	}
	items := make([]string, len(ports))
	for i, p := range ports {
		items[i] = portLabel(p)
	}
	prompt := promptui.Select{
		Label:    "Select port",
		HideHelp: true,
		Items:    items,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return ports[idx].Name, nil
}

func portLabel(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s)", p.Name, p.VID, p.PID, p.Product)
}
