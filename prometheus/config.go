package prometheus

import "fmt"

type Config struct {
	// Namespace is the metric namespace prefix of all exported metrics.
	Namespace string `koanf:"namespace"`

	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

func (c *Config) SetDefaults() {
	c.Namespace = "ksentinel"
	c.Port = 8080
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port '%v' specified", c.Port)
	}
	return nil
}
