package compiler

import (
	"os"

	"github.com/BurntSushi/toml"
	"tlog.app/go/errors"

	"github.com/wind-language/wind-rewrite/compiler/lower"
)

type (
	Config struct {
		Opt   OptConfig    `toml:"opt"`
		Lower lower.Config `toml:"lower"`
	}

	OptConfig struct {
		Passes    []string `toml:"passes"`
		MaxRounds int      `toml:"max_rounds"`
	}
)

func DefaultConfig() Config {
	return Config{
		Opt: OptConfig{
			Passes: []string{"fold", "dce", "strength"},
		},
		Lower: lower.DefaultConfig(),
	}
}

// LoadConfig reads a toml file over the defaults.
// Keys missing from the file keep their default values.
func LoadConfig(name string) (Config, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	return ParseConfig(string(text))
}

// ParseConfig is LoadConfig for in-memory text.
func ParseConfig(text string) (Config, error) {
	cfg := DefaultConfig()

	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}

	if und := md.Undecoded(); len(und) != 0 {
		return Config{}, errors.New("unknown config key: %v", und[0])
	}

	return cfg, nil
}
