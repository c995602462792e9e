package customHttpClient

import (
	"net/http"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
)

// one transport for every outbound api so the llm, the embedder and ragctl reuse connections
var customTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        config.MaxIdleConns,
	MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
	IdleConnTimeout:     config.IdleConnTimeout,
	ForceAttemptHTTP2:   true,
}

// NewClient returns a client on the shared pool. A zero timeout leaves deadlines to the request context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: customTransport, Timeout: timeout}
}
