// Package fsconfig loads fastsync.Config overrides from a TOML file, the
// same encoding and unknown-field strictness geth's own config file uses.
package fsconfig

import (
	"errors"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/go-ethsync/fastsync/fastsync"
)

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return errors.New("field '" + field + "' is not defined in " + rt.String())
	},
}

// LoadFile decodes the TOML file at path into a copy of base, so only the
// fields the file mentions are overridden.
func LoadFile(path string, base fastsync.Config) (fastsync.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, err
	}
	defer f.Close()

	cfg := base
	err = tomlSettings.NewDecoder(f).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return cfg, err
}
