// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	Reader ReaderConfig `mapstructure:"reader"`
}

// ReaderConfig configures split construction and schema resolution defaults.
type ReaderConfig struct {
	// Schema is an inline reader schema for interactive reads, consulted when
	// no partition override applies.
	Schema string `mapstructure:"schema"`

	// PartitionFile is a YAML partition table path ("env:VAR" accepted).
	PartitionFile string `mapstructure:"partition_file"`

	// SplitSize is the default split length in bytes when the caller does not
	// assign splits explicitly.
	SplitSize int64 `mapstructure:"split_size"`

	// Parallelism is how many splits are read concurrently.
	Parallelism int `mapstructure:"parallelism"`
}

// DefaultReaderConfig returns the reader defaults.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		SplitSize:   64 * 1024 * 1024,
		Parallelism: 1,
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "AVROREADER" and the dot character
// in keys is replaced by an underscore. For example, "reader.split_size"
// becomes "AVROREADER_READER_SPLIT_SIZE".
func Load() (*Config, error) {
	cfg := &Config{
		Reader: DefaultReaderConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("AVROREADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
