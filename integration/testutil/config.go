//go:build integration

package testutil

// ServiceAddresses holds addresses for all services used in tests
type ServiceAddresses struct {
	TusServer      string
	TusServerDebug string // metrics and readiness
	UploadURI      string
}

// DefaultAddresses returns default service addresses for a locally running server
func DefaultAddresses() ServiceAddresses {
	return ServiceAddresses{
		TusServer:      GetEnv("TUS_SERVER_ADDR", "localhost:8080"),
		TusServerDebug: GetEnv("TUS_SERVER_DEBUG_ADDR", "localhost:8081"),
		UploadURI:      GetEnv("TUS_UPLOAD_URI", "/files"),
	}
}

// Addrs is a global instance of ServiceAddresses for convenience
var Addrs = DefaultAddresses()
