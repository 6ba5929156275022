package http

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/crudkit/internal/forward"
	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/status"
)

// ProxyController relays /proxy/<name>/<path> to the base URL registered
// for name.
type ProxyController struct {
	client  *forward.Client
	targets map[string]string
}

func NewProxyController(client *forward.Client, targets map[string]string) *ProxyController {
	if client == nil {
		client = forward.NewClient()
	}
	return &ProxyController{client: client, targets: targets}
}

func (pc *ProxyController) Forward(c *gin.Context) {
	base, ok := pc.targets[c.Param("name")]
	if !ok {
		response.Write(c, false, status.URINotFound)
		return
	}
	pc.client.Forward(c, strings.TrimRight(base, "/")+"{path}", forward.ForwardOptions{
		ErrorStatus: status.APIRequestErr.HTTPStatus(),
		Modify: func(req *forward.Request) {
			// the caller's credentials are for this service, not the remote one
			req.Headers.Del("Authorization")
			req.Headers.Del("Cookie")
			req.Headers.Del("X-Csrf-Token")
		},
	})
}

// ParseProxyRoutes reads "name=url" pairs.
func ParseProxyRoutes(routes []string) (map[string]string, error) {
	out := make(map[string]string, len(routes))
	for _, r := range routes {
		name, target, ok := strings.Cut(strings.TrimSpace(r), "=")
		name = strings.TrimSpace(name)
		target = strings.TrimSpace(target)
		if !ok || name == "" || target == "" {
			return nil, fmt.Errorf("invalid proxy route %q, expected name=url", r)
		}
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			return nil, fmt.Errorf("proxy route %s: target must be an http(s) url", name)
		}
		out[name] = target
	}
	return out, nil
}
