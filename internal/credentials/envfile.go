package credentials

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// AppendEnvFile adds KEY=VALUE to the env file. Existing content is never
// rewritten; a newline separator is added only when the file is non-empty.
func AppendEnvFile(path, key, value string) error {
	line := key + "=" + value

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("env file: %w", err)
	case info.Size() > 0:
		line = "\n" + line
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("env file: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("env file: write %s: %w", path, err)
	}
	return f.Close()
}

// LoadEnvFile reads the env file if it exists. A missing file is reported
// through the bool, not as an error.
func LoadEnvFile(path string) (map[string]string, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, false, fmt.Errorf("env file: parse %s: %w", path, err)
	}
	return env, true, nil
}

// Mapping collects the prefixed variables from the env file, overridden by
// the live environment (KEY=VALUE entries as returned by os.Environ).
func Mapping(fileEnv map[string]string, live []string, prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range fileEnv {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	for _, kv := range live {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}
