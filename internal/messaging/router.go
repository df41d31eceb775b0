package messaging

import "sort"

// HeaderRoute names the workflow a message belongs to. Routed workflows get a
// topic of their own; everything else shares the base topic.
const HeaderRoute = "workflow"

// Router resolves the topic a message is written to.
type Router struct {
	base   string
	routed map[string]struct{}
}

// NewRouter routes the listed workflows to "<base>.<workflow>".
func NewRouter(base string, routes []string) Router {
	r := Router{base: base, routed: make(map[string]struct{}, len(routes))}
	for _, route := range routes {
		if route != "" {
			r.routed[route] = struct{}{}
		}
	}
	return r
}

// TopicFor returns the topic for a message carrying headers.
func (r Router) TopicFor(headers map[string]string) string {
	route, ok := headers[HeaderRoute]
	if !ok {
		return r.base
	}
	if _, routed := r.routed[route]; !routed {
		return r.base
	}
	return r.base + "." + route
}

// Topics lists every topic a consumer must read, base first.
func (r Router) Topics() []string {
	routed := make([]string, 0, len(r.routed))
	for route := range r.routed {
		routed = append(routed, r.base+"."+route)
	}
	sort.Strings(routed)
	return append([]string{r.base}, routed...)
}
