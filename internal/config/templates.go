package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "run":
		return runTemplate, nil
	case "periodic":
		return periodicTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// Kinds lists the names Template accepts.
func Kinds() []string {
	return []string{"run", "periodic"}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const runTemplate = `ranks = 4
collective_timeout = "30s"
log_level = "info"
admin_addr = ""
output = "icectl.pio"
output_mode = "marked"
history = "icectl run"

[grid]
mx = 61
my = 61
lx = 100000.0
ly = 100000.0
periodicity = "none"
stencil_width = 2

[[fields]]
kind = "thk"
write = true
value = 1000.0

[[fields]]
kind = "topg"
write = true
random = 250.0

[[fields]]
kind = "usurf"

[[fields]]
kind = "mask"
shared = true
value = 2.0

[[fields]]
kind = "bar"
`

const periodicTemplate = `ranks = 6
collective_timeout = "10s"
output = "periodic.pio"
output_mode = "all"

[grid]
mx = 40
my = 30
lx = 50000.0
ly = 30000.0
periodicity = "xy"
stencil_width = 1
procs_x = 3
procs_y = 2

[[fields]]
kind = "thk"
random = 100.0

[[fields]]
kind = "bmelt"
value = 0.0
`
