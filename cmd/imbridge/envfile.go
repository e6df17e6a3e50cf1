package main

import (
	"errors"
	"os"
	"strings"
)

const envFilePathEnv = "IMBRIDGE_ENV_FILE"

// loadEnvFile reads KEY=VALUE pairs from the file named by
// IMBRIDGE_ENV_FILE (default .env) into the process environment.
// Variables already set win over the file; a missing file loads
// nothing.
func loadEnvFile() (string, int, error) {
	path := strings.TrimSpace(os.Getenv(envFilePathEnv))
	if path == "" {
		path = ".env"
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return path, 0, nil
	}
	if err != nil {
		return path, 0, err
	}
	return path, applyEnvFromContent(string(content)), nil
}

func applyEnvFromContent(content string) int {
	loaded := 0
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || line[0] == '#' {
			continue
		}
		// Shell-style "export KEY=VALUE" lines are accepted.
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if os.Setenv(key, unquoteEnvValue(value)) == nil {
			loaded++
		}
	}
	return loaded
}

// unquoteEnvValue strips one layer of matching quotes; inside double
// quotes literal \n sequences become newlines.
func unquoteEnvValue(raw string) string {
	value := strings.TrimSpace(raw)
	if len(value) < 2 {
		return value
	}
	switch {
	case value[0] == '"' && value[len(value)-1] == '"':
		return strings.ReplaceAll(value[1:len(value)-1], `\n`, "\n")
	case value[0] == '\'' && value[len(value)-1] == '\'':
		return value[1 : len(value)-1]
	}
	return value
}
