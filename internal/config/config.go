package config

type Config interface {
	EnvConfig
	OAuthConfig
	SessionConfig
	SecurityConfig
	GraphConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Session
	Security
	Graph
}

func New() Config {
	return mainConfig{}
}
