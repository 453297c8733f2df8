package server

// Config holds the analysis server settings.
type Config struct {
	Addr            string
	CacheTTLSeconds int
	CacheSize       int
	MaxBodyBytes    int64
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		CacheTTLSeconds: 300,
		CacheSize:       512,
		MaxBodyBytes:    10 << 20,
	}
}
