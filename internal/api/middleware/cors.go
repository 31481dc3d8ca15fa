package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig supplies the CORS policy. api.CORSConfig implements it.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// corsHeaders is a CORSConfig rendered once into response header values.
type corsHeaders struct {
	anyOrigin bool
	origins   map[string]struct{}
	methods   string
	headers   string
	maxAge    string
}

func newCORSHeaders(config CORSConfig) corsHeaders {
	allowed := config.GetAllowedOrigins()

	h := corsHeaders{
		anyOrigin: slices.Contains(allowed, "*"),
		methods:   strings.Join(config.GetAllowedMethods(), ", "),
		headers:   strings.Join(config.GetAllowedHeaders(), ", "),
	}

	if !h.anyOrigin && len(allowed) > 0 {
		h.origins = make(map[string]struct{}, len(allowed))
		for _, origin := range allowed {
			h.origins[origin] = struct{}{}
		}
	}

	if maxAge := config.GetMaxAge(); maxAge > 0 {
		h.maxAge = strconv.Itoa(maxAge)
	}

	return h
}

// apply sets the CORS response headers for a request from origin. With an
// allow list the response varies on Origin, and unknown origins get no
// Access-Control-Allow-Origin at all.
func (c corsHeaders) apply(h http.Header, origin string) {
	switch {
	case c.anyOrigin:
		h.Set("Access-Control-Allow-Origin", "*")
	case c.origins != nil:
		h.Add("Vary", "Origin")

		if _, ok := c.origins[origin]; ok {
			h.Set("Access-Control-Allow-Origin", origin)
		}
	}

	setIfNotEmpty(h, "Access-Control-Allow-Methods", c.methods)
	setIfNotEmpty(h, "Access-Control-Allow-Headers", c.headers)
	setIfNotEmpty(h, "Access-Control-Max-Age", c.maxAge)
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

// CORS decorates every response with the configured policy. Preflight requests,
// OPTIONS carrying Access-Control-Request-Method, are answered here with 204;
// a plain OPTIONS request still reaches the mux.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSHeaders(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy.apply(w.Header(), r.Header.Get("Origin"))

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
