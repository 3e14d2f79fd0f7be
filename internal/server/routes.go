package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *Admin) RegisterRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Started).String(),
			"admin":   a.ID,
			"version": version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ready once the run has locked its registry
	a.router.GET("/ready", func(c *gin.Context) {
		snap := a.current()
		status := http.StatusOK
		if !snap.Locked {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  snap.Locked,
			"fields": len(snap.Fields),
			"admin":  a.ID,
		})
	})

	a.router.GET("/vars", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.current())
	})

	a.router.GET("/vars/:name", func(c *gin.Context) {
		name := c.Param("name")
		for _, info := range a.current().Fields {
			if info.Name == name || (info.StandardName != "" && info.StandardName == name) {
				c.JSON(http.StatusOK, info)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "variable not found"})
	})
}
