// security.go sets protective HTTP response headers and answers CORS
// preflights.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/consejo-social/veeduria/internal/config"
)

// HeaderPolicy describes the response headers every route carries. Empty
// values are not sent.
type HeaderPolicy struct {
	// HSTSMaxAge enables Strict-Transport-Security for that many seconds when > 0.
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	FrameOptions          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
}

// APIHeaderPolicy suits a JSON API that is never framed or rendered. HSTS
// is only sent when the listener terminates TLS.
func APIHeaderPolicy(tls bool) HeaderPolicy {
	p := HeaderPolicy{
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}
	if tls {
		p.HSTSMaxAge = 365 * 24 * 60 * 60
		p.HSTSIncludeSubdomains = true
	}
	return p
}

// headers resolves the policy once; the fixed headers are always present.
func (p HeaderPolicy) headers() [][2]string {
	out := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Permitted-Cross-Domain-Policies", "none"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
	}
	if p.HSTSMaxAge > 0 {
		hsts := fmt.Sprintf("max-age=%d", p.HSTSMaxAge)
		if p.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
		out = append(out, [2]string{"Strict-Transport-Security", hsts})
	}
	for _, h := range [][2]string{
		{"X-Frame-Options", p.FrameOptions},
		{"Content-Security-Policy", p.ContentSecurityPolicy},
		{"Referrer-Policy", p.ReferrerPolicy},
	} {
		if h[1] != "" {
			out = append(out, h)
		}
	}
	return out
}

// SecurityHeadersMiddleware writes the policy's headers before the handler runs.
func SecurityHeadersMiddleware(p HeaderPolicy) gin.HandlerFunc {
	headers := p.headers()
	return func(c *gin.Context) {
		for _, h := range headers {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

const (
	corsAllowHeaders  = "Origin, Content-Type, Accept, Authorization, X-Requested-With, " + RequestIDHeader
	corsExposeHeaders = RequestIDHeader + ", Content-Disposition"
)

var defaultCORSMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

// CORSMiddleware echoes allowed origins ("*" allows any). OPTIONS requests
// end here with 204 whether or not the origin is allowed.
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowMethods := strings.Join(lo.Ternary(len(cfg.AllowedMethods) > 0, cfg.AllowedMethods, defaultCORSMethods), ", ")
	anyOrigin := lo.Contains(cfg.AllowedOrigins, "*")
	allowed := lo.SliceToMap(cfg.AllowedOrigins, func(o string) (string, struct{}) { return o, struct{}{} })

	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok || anyOrigin {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", "3600")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
