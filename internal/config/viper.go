package config

import (
	"fmt"

	"github.com/spf13/viper"
)

var envBindings = []struct {
	key string
	env string
}{
	{"server.listen", "AIVM_LISTEN"},
	{"server.read_timeout", "AIVM_READ_TIMEOUT"},
	{"server.write_timeout", "AIVM_WRITE_TIMEOUT"},
	{"storage.backend", "AIVM_STORAGE_BACKEND"},
	{"storage.root", "AIVM_STORAGE_ROOT"},
	{"storage.s3.bucket", "AIVM_S3_BUCKET"},
	{"storage.s3.prefix", "AIVM_S3_PREFIX"},
	{"storage.s3.region", "AIVM_S3_REGION"},
	{"storage.s3.endpoint", "AIVM_S3_ENDPOINT"},
	{"storage.s3.access_key_id", "AIVM_S3_ACCESS_KEY_ID"},
	{"storage.s3.secret_access_key", "AIVM_S3_SECRET_ACCESS_KEY"},
	{"storage.s3.use_path_style", "AIVM_S3_USE_PATH_STYLE"},
	{"catalog.path", "AIVM_CATALOG_PATH"},
	{"catalog.workers", "AIVM_CATALOG_WORKERS"},
	{"auth.api_key", "AIVM_API_KEY"},
	{"limits.max_model_bytes", "AIVM_MAX_MODEL_BYTES"},
	{"limits.max_concurrent_encodes", "AIVM_MAX_CONCURRENT_ENCODES"},
	{"limits.queue_timeout", "AIVM_QUEUE_TIMEOUT"},
	{"logging.level", "AIVM_LOG_LEVEL"},
	{"logging.format", "AIVM_LOG_FORMAT"},
}

// BindEnv binds every setting to its AIVM_* variable.
func BindEnv(v *viper.Viper) {
	for _, b := range envBindings {
		_ = v.BindEnv(b.key, b.env)
	}
}

// FromViper decodes the settings known to v over Default and validates the
// result. Precedence is viper's: flags, environment, config file.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
