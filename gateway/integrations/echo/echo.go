// Package echo mounts the RPC gateway on an Echo router.
package echo

import (
	"net/http"

	echofw "github.com/labstack/echo/v4"

	"envelope-rpc/gateway"
)

// Router is implemented by *echo.Echo and *echo.Group.
type Router interface {
	POST(path string, h echofw.HandlerFunc, m ...echofw.MiddlewareFunc) *echofw.Route
}

// Trace adapts gateway.Trace to Echo's middleware interface.
func Trace(next echofw.HandlerFunc) echofw.HandlerFunc {
	return func(c echofw.Context) error {
		var err error
		handler := gateway.Trace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.SetRequest(r)
			err = next(c)
		}))
		handler.ServeHTTP(c.Response(), c.Request())
		return err
	}
}

// Mount registers POST /rpc/:service/:method on r.
//
// Example:
//
//	e := echo.New()
//	e.Use(Trace)
//	Mount(e, svr)
func Mount(r Router, d gateway.Dispatcher) {
	r.POST("/rpc/:service/:method", func(c echofw.Context) error {
		gateway.Invoke(d, c.Response(), c.Request(), c.Param("service")+"."+c.Param("method"))
		return nil
	})
}
