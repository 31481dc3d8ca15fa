package middleware

import "sync"

// publicEndpoints are paths exempt from rate limiting, such as liveness probes.
var (
	publicMu        sync.RWMutex        //nolint: gochecknoglobals
	publicEndpoints = map[string]bool{} //nolint: gochecknoglobals
)

// RegisterPublicEndpoint exempts a path from rate limiting.
//
//	middleware.RegisterPublicEndpoint("/ping")
func RegisterPublicEndpoint(endpoint string) {
	publicMu.Lock()
	defer publicMu.Unlock()

	publicEndpoints[endpoint] = true
}

// IsPublicEndpoint reports whether path was registered with RegisterPublicEndpoint.
func IsPublicEndpoint(path string) bool {
	publicMu.RLock()
	defer publicMu.RUnlock()

	return publicEndpoints[path]
}
