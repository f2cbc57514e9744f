package webserver

import (
	"html"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stake-plus/mememo/src/dispatch"
)

// Platform keys become MEMEMO_PLATFORM_<KEY> variables in scripts.
var platformKeyRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Commands runs commands through the dispatcher on behalf of a principal.
type Commands struct {
	dispatcher *dispatch.Dispatcher
	policy     *bluemonday.Policy
}

func NewCommands(d *dispatch.Dispatcher) Commands {
	return Commands{dispatcher: d, policy: bluemonday.StrictPolicy()}
}

func (h Commands) Run(c *gin.Context) {
	var req struct {
		Principal string            `json:"principal" binding:"required,max=128"`
		Text      string            `json:"text" binding:"required,max=4000"`
		Platform  map[string]string `json:"platform"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	text := h.clean(req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"err": "empty command"})
		return
	}
	platform := make(map[string]string, len(req.Platform)+2)
	for k, v := range req.Platform {
		if !platformKeyRE.MatchString(k) {
			c.JSON(http.StatusBadRequest, gin.H{"err": "platform keys must match [A-Za-z0-9_]+"})
			return
		}
		platform[k] = h.clean(v)
	}
	platform["source"] = "api"
	platform["caller"] = c.GetString("sub")

	out := h.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Principal: req.Principal,
		Text:      text,
		Platform:  platform,
	})
	c.JSON(statusFor(out.Kind), gin.H{"outcome": out, "message": out.Summary()})
}

// clean strips markup but keeps the characters the caller typed; the text is
// matched and passed to scripts, not rendered.
func (h Commands) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(s)))
}

func statusFor(k dispatch.Kind) int {
	switch k {
	case dispatch.Handled:
		return http.StatusOK
	case dispatch.Unrecognized:
		return http.StatusNotFound
	case dispatch.AuthorizationRequired:
		return http.StatusForbidden
	case dispatch.RateLimited:
		return http.StatusTooManyRequests
	case dispatch.ExecutionTimeout:
		return http.StatusGatewayTimeout
	case dispatch.StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
