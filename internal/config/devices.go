package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Device is a named speaker on the LAN
type Device struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"` // host or host:port
}

// DeviceRegistry resolves speaker names to network addresses
type DeviceRegistry struct {
	devices map[string]Device
	order   []string
}

type devicesFile struct {
	Devices []Device `yaml:"devices"`
}

// LoadDevices reads a YAML registry of the form:
//
//	devices:
//	  - name: kitchen
//	    address: 192.168.1.50
//
// An empty path yields an empty registry.
func LoadDevices(path string) (*DeviceRegistry, error) {
	if path == "" {
		return NewDeviceRegistry(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}

	var f devicesFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parsing devices file: %w", err)
	}

	return NewDeviceRegistry(f.Devices)
}

// NewDeviceRegistry builds a registry, rejecting blank or duplicate entries
func NewDeviceRegistry(devices []Device) (*DeviceRegistry, error) {
	r := &DeviceRegistry{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if key == "" {
			return nil, fmt.Errorf("device with address %q has no name", d.Address)
		}
		if strings.TrimSpace(d.Address) == "" {
			return nil, fmt.Errorf("device %q has no address", d.Name)
		}
		if _, dup := r.devices[key]; dup {
			return nil, fmt.Errorf("duplicate device name %q", d.Name)
		}
		d.Address = strings.TrimSpace(d.Address)
		r.devices[key] = d
		r.order = append(r.order, key)
	}
	return r, nil
}

// Resolve maps a device name to its address. Anything that is not a known
// name is returned unchanged so callers may pass raw addresses.
func (r *DeviceRegistry) Resolve(nameOrAddress string) string {
	v := strings.TrimSpace(nameOrAddress)
	if d, ok := r.devices[strings.ToLower(v)]; ok {
		return d.Address
	}
	return v
}

// Devices returns the registered speakers in file order
func (r *DeviceRegistry) Devices() []Device {
	out := make([]Device, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.devices[k])
	}
	return out
}
