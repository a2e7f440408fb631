package kafka

import "fmt"

// TLSConfig to connect to Kafka via TLS
type TLSConfig struct {
	Enabled               bool   `koanf:"enabled"`
	CaFilepath            string `koanf:"caFilepath"`
	CertFilepath          string `koanf:"certFilepath"`
	KeyFilepath           string `koanf:"keyFilepath"`
	InsecureSkipTLSVerify bool   `koanf:"insecureSkipTlsVerify"`
}

func (c *TLSConfig) SetDefaults() {
	c.Enabled = false
}

func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	hasCert := c.CertFilepath != ""
	hasKey := c.KeyFilepath != ""
	if hasCert != hasKey {
		return fmt.Errorf("config keys 'certFilepath' and 'keyFilepath' must either both be set or both be empty")
	}
	return nil
}
