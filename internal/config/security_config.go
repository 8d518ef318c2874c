package config

type SecurityConfig interface {
	GetAppSecret() string
	GetSealCredentials() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetAppSecret is the root secret that cookie, return-context and sealing keys are derived from.
func (Security) GetAppSecret() string {
	return GetEnv("APP_SECRET", "")
}

func (Security) GetSealCredentials() bool {
	return GetEnv("SEAL_CREDENTIALS", "true") == "true"
}
