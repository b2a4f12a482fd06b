// Package gin mounts the RPC gateway on a Gin router.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"envelope-rpc/gateway"
)

// Trace wires gateway.Trace into Gin's middleware chain.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		handler := gateway.Trace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		}))
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// Mount registers POST /rpc/:service/:method on r.
//
// Example:
//
//	r := gin.Default()
//	r.Use(Trace())
//	Mount(r, svr)
func Mount(r gin.IRoutes, d gateway.Dispatcher) {
	r.POST("/rpc/:service/:method", func(c *gin.Context) {
		gateway.Invoke(d, c.Writer, c.Request, c.Param("service")+"."+c.Param("method"))
	})
}
