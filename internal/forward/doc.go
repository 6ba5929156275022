// Package forward calls remote HTTP APIs and relays incoming gin requests
// to other services.
//
//	c := forward.NewClient(forward.WithBaseURL("http://search:9200"))
//	resp, err := c.APIRequest(ctx, forward.Request{
//		URL:       "{index}/_search",
//		Method:    "post",
//		URLParams: map[string]any{"index": "books"},
//		JSON:      query,
//	})
//
// Transport failures surface as status.APIRequestErr codes so handlers can
// hand them straight to the response envelope.
package forward
