package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/minutes/cmd/api/container"
	"github.com/lyzr/minutes/cmd/api/middleware"
	"github.com/lyzr/minutes/cmd/api/routes"
	"github.com/lyzr/minutes/common/bootstrap"
	"github.com/lyzr/minutes/common/server"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Bootstrap common components (store, redis, queue, cache, journal, telemetry)
	components, err := bootstrap.Setup(ctx, "minutes-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap api: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := NewEcho(serviceContainer)

	port := components.Config.Service.Port
	components.Logger.Info("Starting minutes api", "port", port)

	srv := server.New("minutes-api", port, e, components.Logger, server.DefaultTimeouts())
	if err := srv.Start(ctx); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// NewEcho builds the HTTP surface around an initialized container.
func NewEcho(c *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e)
	setupHealthCheck(e, c.Components)
	registerRoutes(e, c)
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	// Event Grid preflights carry no Origin; the CORS middleware would answer them itself.
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/api/events/")
		},
	}))
	e.Use(echomw.RequestID())
	e.Use(middleware.ExtractPrincipal())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		status := "ok"
		code := http.StatusOK
		if err := components.Health(c.Request().Context()); err != nil {
			status = err.Error()
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]string{
			"status":  status,
			"service": components.Config.Service.Name,
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterUploadRoutes(e, c)
	routes.RegisterEventRoutes(e, c)
	routes.RegisterMinutesRoutes(e, c)
}
