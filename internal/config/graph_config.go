package config

type GraphConfig interface {
	GetGraphBaseURL() string
}

type Graph struct{}

var _ GraphConfig = Graph{}

func (Graph) GetGraphBaseURL() string {
	return GetEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0")
}
