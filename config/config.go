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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/flagrelay/internal/debugging"
	"github.com/cardinalhq/flagrelay/internal/evaluation"
	"github.com/cardinalhq/flagrelay/internal/fly"
	"github.com/cardinalhq/flagrelay/internal/healthcheck"
	"github.com/cardinalhq/flagrelay/internal/invalidate"
	"github.com/cardinalhq/flagrelay/internal/pubsub"
	"github.com/cardinalhq/flagrelay/internal/sse"
	"github.com/cardinalhq/flagrelay/internal/topicpush"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Server      ServerConfig        `mapstructure:"server"`
	Health      healthcheck.Config  `mapstructure:"health"`
	Pprof       debugging.Config    `mapstructure:"pprof"`
	Ingest      pubsub.IngestConfig `mapstructure:"ingest"`
	Redis       pubsub.RedisConfig  `mapstructure:"redis"`
	GCP         pubsub.GCPConfig    `mapstructure:"gcp"`
	SQS         pubsub.SQSConfig    `mapstructure:"sqs"`
	Azure       pubsub.AzureConfig  `mapstructure:"azure"`
	Streaming   sse.Config          `mapstructure:"streaming"`
	TopicPush   topicpush.Config    `mapstructure:"topicpush"`
	Kafka       fly.Config          `mapstructure:"kafka"`
	FeatureFlag FeatureFlagConfig   `mapstructure:"feature_flag"`
	Debug       bool                `mapstructure:"debug"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FeatureFlagConfig holds everything needed to talk to Flipt. Both halves
// share the feature_flag section.
type FeatureFlagConfig struct {
	Evaluation  evaluation.Config `mapstructure:",squash"`
	Credentials invalidate.Config `mapstructure:",squash"`
}

// Default returns a Config populated with every package default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Health:    healthcheck.Config{Port: 8090},
		Pprof:     debugging.DefaultConfig(),
		Ingest:    pubsub.DefaultIngestConfig(),
		Redis:     pubsub.DefaultRedisConfig(),
		Streaming: sse.DefaultConfig(),
		TopicPush: topicpush.DefaultConfig(),
		Kafka:     *fly.DefaultConfig(),
		FeatureFlag: FeatureFlagConfig{
			Evaluation: evaluation.DefaultConfig(),
			Credentials: invalidate.Config{
				FallbackNamespace: invalidate.DefaultFallbackNamespace,
			},
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "FLAGRELAY" and the dot character
// in keys is replaced by an underscore. For example, "redis.addr" becomes
// "FLAGRELAY_REDIS_ADDR".
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. A named file that cannot
// be read is an error; the default ./config.yaml is optional.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("FLAGRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.BindEnv("feature_flag.namespace_tokens")
	if err := v.ReadInConfig(); err != nil && path != "" {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Comma separated lists arrive from the environment as a single string.
	cfg.Kafka.Brokers = splitList(v, "kafka.brokers", cfg.Kafka.Brokers)
	cfg.Ingest.Backends = splitList(v, "ingest.backends", cfg.Ingest.Backends)
	cfg.Redis.Channels = splitList(v, "redis.channels", cfg.Redis.Channels)
	cfg.TopicPush.Backends = splitList(v, "topicpush.backends", cfg.TopicPush.Backends)

	tokens, err := namespaceTokens(v)
	if err != nil {
		return nil, err
	}
	cfg.FeatureFlag.Credentials.NamespaceTokens = tokens

	return cfg, nil
}

func splitList(v *viper.Viper, key string, current []string) []string {
	raw, ok := v.Get(key).(string)
	if !ok {
		return current
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// namespaceTokens accepts either a map from a config file or a JSON object
// from FLAGRELAY_FEATURE_FLAG_NAMESPACE_TOKENS.
func namespaceTokens(v *viper.Viper) (map[string]string, error) {
	const key = "feature_flag.namespace_tokens"
	if raw, ok := v.Get(key).(string); ok {
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		tokens := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", key, err)
		}
		return tokens, nil
	}
	tokens := v.GetStringMapString(key)
	if len(tokens) == 0 {
		return nil, nil
	}
	return tokens, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling. Squashed structs
// share their parent's prefix and fields tagged "-" are skipped.
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
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if f.Type.Kind() == reflect.Struct && opts == "squash" {
			bindEnvs(v, val.Field(i).Interface(), parts...)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), name)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
