package config

// LockConfig configures the per-slug run lock.
type LockConfig struct {
	Backend   string `yaml:"backend"` // file, redis, none
	RedisAddr string `yaml:"redis_addr"`
	TTL       string `yaml:"ttl"`
}

// PublishConfig configures uploads of rendered sites to S3-compatible storage.
type PublishConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// IsPublishConfigured reports whether publish has enough settings to connect.
func (c *Config) IsPublishConfigured() bool {
	p := c.Publish
	return p.Endpoint != "" && p.Bucket != "" && p.AccessKey != "" && p.SecretKey != ""
}
