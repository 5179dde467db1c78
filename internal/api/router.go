package api

import (
	"github.com/SzilBalazs/bctools/internal/api/controllers"
	"github.com/SzilBalazs/bctools/internal/app"
	"github.com/SzilBalazs/bctools/internal/runner"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, runs *runner.Manager) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	runCtrl := &controllers.RunsController{App: app, Runs: runs}

	e.GET("/api/tablebases", runCtrl.ListSources)
	e.POST("/api/tablebases/:name/sync", runCtrl.SubmitSync)

	e.POST("/api/datagen", runCtrl.SubmitDatagen)

	e.GET("/api/runs", runCtrl.ListRuns)
	e.GET("/api/runs/:id", runCtrl.GetRun)
	e.DELETE("/api/runs/:id", runCtrl.CancelRun)
}
