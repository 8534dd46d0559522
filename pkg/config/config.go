// Package config reads the rig configuration file.
//
// The format is INI-style: [section] headers followed by "key: value" or
// "key = value" lines, with # and ; comments. Typed accessors attach
// section/option context to every error.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"airlock-hil/pkg/errors"
)

// Config provides access to a parsed configuration file.
type Config struct {
	sections map[string]map[string]string
	order    []string
}

// New creates an empty Config.
func New() *Config {
	return &Config{sections: make(map[string]map[string]string)}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	c := New()
	var current string

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
			if line == "" {
				continue
			}
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			if current == "" {
				return nil, fmt.Errorf("config: empty section header at line %d in %s", lineNum, path)
			}
			if _, ok := c.sections[current]; !ok {
				c.sections[current] = make(map[string]string)
				c.order = append(c.order, current)
			}
			continue
		}

		sep := strings.IndexAny(line, ":=")
		if sep < 0 {
			return nil, fmt.Errorf("config: malformed line %d in %s: %q", lineNum, path, line)
		}
		if current == "" {
			return nil, fmt.Errorf("config: option before any section at line %d in %s", lineNum, path)
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		c.sections[current][key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return c, nil
}

// Sections returns the section names in file order.
func (c *Config) Sections() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// HasSection reports whether a section is present.
func (c *Config) HasSection(section string) bool {
	_, ok := c.sections[section]
	return ok
}

// Set stores a value, creating the section if needed. Used by tests and by
// flag overrides.
func (c *Config) Set(section, option, value string) {
	if _, ok := c.sections[section]; !ok {
		c.sections[section] = make(map[string]string)
		c.order = append(c.order, section)
	}
	c.sections[section][option] = value
}

func (c *Config) get(section, option string) (string, bool) {
	opts, ok := c.sections[section]
	if !ok {
		return "", false
	}
	v, ok := opts[option]
	return v, ok
}

// GetString returns a string option, or def if absent.
func (c *Config) GetString(section, option, def string) string {
	if v, ok := c.get(section, option); ok {
		return v
	}
	return def
}

// GetFloat returns a float option, or def if absent.
func (c *Config) GetFloat(section, option string, def float64) (float64, error) {
	v, ok := c.get(section, option)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.ConfigTypeError(section, option, v, "float", err)
	}
	return f, nil
}

// GetInt returns an integer option, or def if absent.
func (c *Config) GetInt(section, option string, def int) (int, error) {
	v, ok := c.get(section, option)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.ConfigTypeError(section, option, v, "int", err)
	}
	return n, nil
}

// GetBool returns a boolean option, or def if absent. Accepts true/false,
// 1/0, yes/no, on/off.
func (c *Config) GetBool(section, option string, def bool) (bool, error) {
	v, ok := c.get(section, option)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, errors.ConfigTypeError(section, option, v, "bool", fmt.Errorf("unrecognized boolean"))
	}
}
