package secrets

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Source describes how to load a secret value.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string `mapstructure:"name"`
	// Value is an inline secret value provided via configuration or flags.
	Value string `mapstructure:"value" json:"-"`
	// File points to a file containing the secret value. When set it takes
	// precedence over Env and Value.
	File string `mapstructure:"file"`
	// Env names an environment variable holding the secret. It takes
	// precedence over Value.
	Env string `mapstructure:"env"`
}

var lookupEnv = os.LookupEnv

// Load returns the resolved secret value from the provided source. File wins
// over Env, Env wins over Value. The returned secret is always trimmed. An
// error is returned when no source contains a usable secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", eris.Wrapf(err, "reading %s from file %q", name, file)
		}
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
		return "", eris.Errorf("%s file %q is empty", name, file)
	}

	if env := strings.TrimSpace(src.Env); env != "" {
		value, ok := lookupEnv(env)
		if secret := strings.TrimSpace(value); ok && secret != "" {
			return secret, nil
		}
		if strings.TrimSpace(src.Value) == "" {
			return "", eris.Errorf("%s: environment variable %s is not set", name, env)
		}
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		return "", eris.Errorf("%s is not configured", name)
	}

	return secret, nil
}
