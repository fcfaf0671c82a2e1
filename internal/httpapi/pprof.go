package httpapi

import (
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gin-gonic/gin"
)

// mountPprof serves the runtime profiles behind the admin bearer token. A
// single catch-all route is used because gin rejects static siblings next to
// a wildcard.
func mountPprof(admin *gin.RouterGroup) {
	h := func(c *gin.Context) { pprofHandler(c.Param("name")).ServeHTTP(c.Writer, c.Request) }
	admin.GET("/debug/pprof/*name", h)
	admin.POST("/debug/pprof/*name", h)
}

func pprofHandler(name string) http.HandlerFunc {
	switch name = strings.TrimPrefix(name, "/"); name {
	case "cmdline":
		return hpprof.Cmdline
	case "profile":
		return hpprof.Profile
	case "symbol":
		return hpprof.Symbol
	case "trace":
		return hpprof.Trace
	}
	// pprof.Index only understands requests rooted at /debug/pprof/.
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + name
		hpprof.Index(w, r2)
	}
}
