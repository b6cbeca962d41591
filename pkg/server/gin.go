package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"factoid-api/internal/logging"
	"factoid-api/internal/router"
	"factoid-api/pkg/lambda"
)

var log = logging.Source("Server")

// GinHandler serves every request through r, so the local server behaves
// like the deployed function
func GinHandler(r *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		req := &lambda.Request{
			Method:      c.Request.Method,
			Path:        c.Request.URL.Path,
			Headers:     firstValues(c.Request.Header),
			QueryParams: firstValues(c.Request.URL.Query()),
			Body:        body,
		}

		resp := r.Serve(c.Request.Context(), req)
		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		c.Status(resp.StatusCode)
		if _, err := c.Writer.WriteString(resp.Body); err != nil {
			log.WithError(err).Warn("failed to write response")
		}
	}
}

// NewEngine returns a gin engine that hands every request to the container's
// router
func NewEngine(c *Container) *gin.Engine {
	if c.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.NoRoute(GinHandler(c.Router))
	return engine
}

func firstValues(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
