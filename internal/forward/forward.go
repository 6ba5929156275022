package forward

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/status"
)

// Headers that are never copied between the incoming request, the remote
// call and the response.
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Te":                true,
	"Trailer":           true,
	"Host":              true,
	"Content-Length":    true,
}

// ForwardOptions adjusts a forwarded request.
type ForwardOptions struct {
	// ErrorStatus is the HTTP status written when the remote call fails.
	// Default 500.
	ErrorStatus int
	// Modify may change the request built from the incoming one.
	Modify func(*Request)
}

// Forward relays the incoming request to target and writes the remote
// response back. Method, body, headers (cookies included) and query are
// copied; gin path params fill {name} placeholders of target.
func (c *Client) Forward(gc *gin.Context, target string, opts ForwardOptions) {
	req, err := incomingRequest(gc, target)
	if err != nil {
		writeForwardError(gc, opts, status.New(status.APIRequestErr.Key, err.Error()))
		return
	}
	if opts.Modify != nil {
		opts.Modify(&req)
	}

	resp, err := c.APIRequest(gc.Request.Context(), req)
	if err != nil {
		writeForwardError(gc, opts, status.From(err, status.APIRequestErr))
		return
	}

	for k, vs := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			gc.Writer.Header().Add(k, v)
		}
	}
	gc.Status(resp.StatusCode)
	_, _ = gc.Writer.Write(resp.Body)
}

func incomingRequest(gc *gin.Context, target string) (Request, error) {
	var body []byte
	if gc.Request.Body != nil {
		raw, err := io.ReadAll(gc.Request.Body)
		if err != nil {
			return Request{}, err
		}
		if len(raw) > 0 {
			body = raw
		}
	}

	headers := http.Header{}
	for k, vs := range gc.Request.Header {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		headers[k] = append([]string(nil), vs...)
	}

	params := make(map[string]any, len(gc.Params))
	for _, p := range gc.Params {
		params[p.Key] = p.Value
	}

	return Request{
		URL:       target,
		Method:    gc.Request.Method,
		URLParams: params,
		Query:     gc.Request.URL.Query(),
		Headers:   headers,
		Body:      body,
	}, nil
}

func writeForwardError(gc *gin.Context, opts ForwardOptions, code status.Code) {
	httpStatus := opts.ErrorStatus
	if httpStatus == 0 {
		httpStatus = http.StatusInternalServerError
	}
	gc.AbortWithStatusJSON(httpStatus, response.FromContext(gc).Fail(gc, code))
}
