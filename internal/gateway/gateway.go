// Package gateway exposes the directory client operations over HTTP/JSON.
// Every route answers with a cluster.Response; typed outcomes such as
// NoSuchUser or NotCoordinator are reported in its status field with HTTP
// 200, and only undecodable requests get HTTP 400.
package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/vlog"
)

// Directory is the node surface the gateway serves.
type Directory interface {
	Create(args cluster.CreateArgs) cluster.Response
	Lookup(name string) cluster.Response
	ReverseLookup(id string) cluster.Response
	Modify(args cluster.ModifyArgs) cluster.Response
	Delete(args cluster.DeleteArgs) cluster.Response
	List(selector string) cluster.Response
	WhoIsCoordinatorResponse(ctx context.Context) cluster.Response
	Status() cluster.Status
}

type Handler struct {
	Dir Directory
	Log *vlog.Logger
}

// NewRouter builds the gin engine with every gateway route.
func NewRouter(dir Directory, logger *vlog.Logger) *gin.Engine {
	if logger == nil {
		logger = vlog.Discard()
	}
	h := &Handler{Dir: dir, Log: logger}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
	r.GET("/coordinator", h.Coordinator)

	r.POST("/users", h.Create)
	r.GET("/users/:name", h.Lookup)
	r.PUT("/users/:name", h.Modify)
	r.DELETE("/users/:name", h.Delete)
	r.GET("/ids/:id", h.ReverseLookup)
	r.GET("/list/:selector", h.List)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dir.Status())
}

// Coordinator blocks until the node knows a coordinator or the request is
// canceled.
func (h *Handler) Coordinator(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dir.WhoIsCoordinatorResponse(c.Request.Context()))
}

func (h *Handler) Create(c *gin.Context) {
	var args cluster.CreateArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	args.Origin = c.ClientIP()
	h.Log.Debugf("HTTP create %s from %s", args.LoginName, args.Origin)
	c.JSON(http.StatusOK, h.Dir.Create(args))
}

func (h *Handler) Lookup(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dir.Lookup(c.Param("name")))
}

func (h *Handler) ReverseLookup(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dir.ReverseLookup(c.Param("id")))
}

func (h *Handler) Modify(c *gin.Context) {
	var args cluster.ModifyArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	args.OldName = c.Param("name")
	c.JSON(http.StatusOK, h.Dir.Modify(args))
}

func (h *Handler) Delete(c *gin.Context) {
	var args cluster.DeleteArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	args.LoginName = c.Param("name")
	c.JSON(http.StatusOK, h.Dir.Delete(args))
}

func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.Dir.List(c.Param("selector")))
}
