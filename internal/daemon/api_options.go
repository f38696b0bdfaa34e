package daemon

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// APIOptions contains optional configuration for the API server.
// NewAPIOptions should be used to create instances of APIOptions.
type APIOptions struct {
	// CORS configuration for cross-origin requests.
	CORS CORSConfig

	// ShutdownTimeout bounds graceful shutdown of the HTTP listener.
	ShutdownTimeout time.Duration
}

// CORSConfig holds the cross-origin settings handed to the cors middleware.
type CORSConfig struct {
	// Enabled gates whether the middleware is installed at all.
	Enabled bool

	// AllowCredentials permits cookies and auth headers on cross-origin
	// requests. Forced off when AllowOrigins contains "*".
	AllowCredentials bool

	// AllowedHeaders lists request headers clients may send beyond the
	// CORS-safelisted ones.
	AllowedHeaders []string

	// AllowMethods lists the permitted HTTP methods.
	AllowMethods []string

	// AllowOrigins lists origins granted access; "*" opens the API to all.
	AllowOrigins []string

	// ExposedHeaders lists response headers readable by browser clients.
	ExposedHeaders []string

	// MaxAge caps how long browsers may cache preflight responses.
	MaxAge time.Duration
}

// APIOption defines a functional option for configuring APIOptions.
// Options are applied in order, with later options overriding earlier ones.
type APIOption func(*APIOptions) error

// NewAPIOptions creates APIOptions, starting from defaults and applying the
// supplied options in order.
func NewAPIOptions(opts ...APIOption) (APIOptions, error) {
	options := APIOptions{
		CORS: CORSConfig{
			Enabled:          false,
			AllowOrigins:     nil,
			AllowMethods:     DefaultCORSAllowMethods(),
			AllowedHeaders:   DefaultCORSAllowHeaders(),
			AllowCredentials: DefaultCORSAllowCredentials(),
			ExposedHeaders:   nil,
			MaxAge:           DefaultCORSMaxAge(),
		},
		ShutdownTimeout: DefaultAPIShutdownTimeout(),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return APIOptions{}, err
		}
	}

	return options, nil
}

// WithCORSEnabled enables or disables CORS support.
func WithCORSEnabled(enabled bool) APIOption {
	return func(o *APIOptions) error {
		o.CORS.Enabled = enabled
		return nil
	}
}

// WithCORSAllowHeaders sets the request headers clients may send beyond the
// CORS-safelisted ones.
func WithCORSAllowHeaders(headers []string) APIOption {
	return func(o *APIOptions) error {
		o.CORS.AllowedHeaders = headers
		return nil
	}
}

// WithCORSAllowOrigins sets the origins granted cross-origin access.
func WithCORSAllowOrigins(origins []string) APIOption {
	return func(o *APIOptions) error {
		o.CORS.AllowOrigins = origins
		return nil
	}
}

// WithCORSAllowMethods sets the HTTP methods permitted on cross-origin requests.
func WithCORSAllowMethods(methods []string) APIOption {
	return func(o *APIOptions) error {
		o.CORS.AllowMethods = methods
		return nil
	}
}

// WithCORSAllowCredentials sets whether cross-origin requests may carry credentials.
func WithCORSAllowCredentials(allowed bool) APIOption {
	return func(o *APIOptions) error {
		o.CORS.AllowCredentials = allowed
		return nil
	}
}

// WithCORSExposeHeaders sets the response headers browser clients may read.
func WithCORSExposeHeaders(headers []string) APIOption {
	return func(o *APIOptions) error {
		o.CORS.ExposedHeaders = headers
		return nil
	}
}

// WithCORSMaxAge sets how long browsers may cache preflight responses.
func WithCORSMaxAge(maxAge time.Duration) APIOption {
	return func(o *APIOptions) error {
		o.CORS.MaxAge = maxAge
		return nil
	}
}

// WithShutdownTimeout configures how long to wait for graceful shutdown.
func WithShutdownTimeout(timeout time.Duration) APIOption {
	return func(o *APIOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("shutdown timeout must be positive, got %v", timeout)
		}
		o.ShutdownTimeout = timeout
		return nil
	}
}

// DefaultCORSAllowHeaders returns the request headers accepted out of the box.
func DefaultCORSAllowHeaders() []string {
	return []string{
		"Accept",
		"Accept-Language",
		"Content-Language",
		"Content-Type",
		"Range",
	}
}

// DefaultCORSAllowMethods returns the HTTP methods accepted out of the box.
func DefaultCORSAllowMethods() []string {
	return []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodOptions,
	}
}

// DefaultCORSAllowCredentials returns the default 'allow credentials' setting.
func DefaultCORSAllowCredentials() bool {
	return false
}

// DefaultCORSMaxAge returns the default preflight cache duration.
func DefaultCORSMaxAge() time.Duration {
	return 5 * time.Minute
}

// DefaultAPIShutdownTimeout is the default time allowed for API server graceful shutdown.
func DefaultAPIShutdownTimeout() time.Duration {
	return 5 * time.Second
}

// validateAddr checks that addr is a usable "host:port" string, accepting
// numeric and named ports.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	if port == "" {
		return fmt.Errorf("address missing port")
	}

	if _, err := strconv.Atoi(port); err != nil {
		if _, err := net.LookupPort("tcp", port); err != nil {
			return fmt.Errorf("invalid address port: %s", port)
		}
	}

	_ = host
	return nil
}
