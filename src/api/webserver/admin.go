package webserver

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/mememo/src/cache"
	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/grants"
)

type Admin struct {
	dispatcher *dispatch.Dispatcher
	grants     grants.Store
	cache      cache.Store
	challenges *challenge.Manager
}

func NewAdmin(d *dispatch.Dispatcher, gs grants.Store, cs cache.Store, cm *challenge.Manager) Admin {
	return Admin{dispatcher: d, grants: gs, cache: cs, challenges: cm}
}

type serviceView struct {
	Name     string   `json:"name"`
	Pattern  string   `json:"pattern"`
	Enabled  bool     `json:"enabled"`
	Grants   []string `json:"grants,omitempty"`
	CacheTTL string   `json:"cache_ttl,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	Doc      string   `json:"doc,omitempty"`
}

func (a Admin) Services(c *gin.Context) {
	defs := a.dispatcher.Registry().All()
	out := make([]serviceView, 0, len(defs))
	for _, d := range defs {
		v := serviceView{
			Name:    d.Name,
			Pattern: d.Pattern,
			Enabled: d.Enabled,
			Grants:  d.RequiredGrants,
			Doc:     d.Doc,
		}
		if d.Cached() {
			v.CacheTTL = d.CacheTTL.String()
		}
		if d.Timeout > 0 {
			v.Timeout = d.Timeout.String()
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"services": out})
}

func (a Admin) ListGrants(c *gin.Context) {
	list, err := a.grants.List(c.Request.Context(), c.Param("principal"))
	if err != nil {
		storeError(c, "list grants", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": list})
}

func (a Admin) IssueGrant(c *gin.Context) {
	var req struct {
		Principal string `json:"principal" binding:"required,max=128"`
		Grant     string `json:"grant" binding:"required,max=128"`
		TTL       string `json:"ttl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	ttl := a.challenges.GrantTTL()
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"err": "ttl must be a positive duration"})
			return
		}
		ttl = d
	}

	g, err := a.grants.Issue(c.Request.Context(), req.Principal, req.Grant, ttl)
	if err != nil {
		if errors.Is(err, grants.ErrInvalidGrant) {
			c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
			return
		}
		storeError(c, "issue grant", err)
		return
	}
	log.Printf("webserver: %s issued %s to %s until %s", c.GetString("sub"), g.GrantName, g.PrincipalID, g.ExpiresAt.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{"grant": g})
}

func (a Admin) RevokeGrant(c *gin.Context) {
	principal, grant := c.Param("principal"), c.Param("grant")
	n, err := a.dispatcher.Revoke(c.Request.Context(), principal, grant)
	if err != nil {
		storeError(c, "revoke grant", err)
		return
	}
	log.Printf("webserver: %s revoked %s from %s, %d cached results dropped", c.GetString("sub"), grant, principal, n)
	c.JSON(http.StatusOK, gin.H{"success": true, "invalidated": n})
}

// BeginChallenge opens an auth3p challenge on behalf of a principal.
func (a Admin) BeginChallenge(c *gin.Context) {
	var req struct {
		Principal string `json:"principal" binding:"required,max=128"`
		Grant     string `json:"grant" binding:"required,max=128"`
		Alias     string `json:"alias" binding:"max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	ch, err := a.challenges.Begin(c.Request.Context(), challenge.Request{
		Principal: req.Principal,
		Alias:     req.Alias,
		Grant:     req.Grant,
		Context:   "api:" + c.GetString("sub"),
	}, 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"challenge": ch})
}

func (a Admin) InvalidateCache(c *gin.Context) {
	var req struct {
		Service string `json:"service" binding:"required,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if _, ok := a.dispatcher.Registry().Get(req.Service); !ok {
		c.JSON(http.StatusNotFound, gin.H{"err": "unknown service"})
		return
	}
	n, err := a.cache.InvalidateService(c.Request.Context(), req.Service)
	if err != nil {
		storeError(c, "invalidate cache", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": n})
}

func storeError(c *gin.Context, op string, err error) {
	log.Printf("webserver: %s: %v", op, err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"err": "store unavailable"})
}
