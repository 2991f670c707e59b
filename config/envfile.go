package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DefaultEnvFile is the env file the CLI reads and the config subcommands
// write.
const DefaultEnvFile = ".env"

// LoadEnvFile reads KEY=VALUE lines from path into the process environment.
// Existing environment variables win. A missing file is not an error.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// SetEnvValue writes key=value into the env file at path, creating the file
// if needed and replacing an existing entry for the same key.
func SetEnvValue(path, key, value string) error {
	entries := map[string]string{}
	var order []string

	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			if _, seen := entries[k]; !seen {
				order = append(order, k)
			}
			entries[k] = strings.TrimSpace(v)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if _, seen := entries[key]; !seen {
		order = append(order, key)
	}
	entries[key] = value

	// Stable output keeps diffs readable when the file is under version
	// control.
	if len(order) == 0 {
		order = make([]string, 0, len(entries))
		for k := range entries {
			order = append(order, k)
		}
		sort.Strings(order)
	}

	var b strings.Builder
	for _, k := range order {
		fmt.Fprintf(&b, "%s=%s\n", k, entries[k])
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}
