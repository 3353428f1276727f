package backend

import (
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/diggerhq/digger/statebackend/internal/config"
)

// Operation names one protocol action; the values double as metric labels.
type Operation string

const (
	OpRead      Operation = "read"
	OpWrite     Operation = "write"
	OpDelete    Operation = "delete"
	OpLock      Operation = "lock"
	OpUnlock    Operation = "unlock"
	OpUnmatched Operation = "unmatched"
)

type route struct {
	method string
	// suffix must end the request path; it is stripped to get the state path.
	// Empty matches every path.
	suffix string
	op     Operation
}

// routeTable is evaluated in order and the first matching row wins. Anything
// that matches no row is answered with 404.
type routeTable []route

func newRouteTable(p config.Protocol) routeTable {
	return routeTable{
		{method: http.MethodGet, op: OpRead},
		{method: p.UpdateMethod, op: OpWrite},
		{method: http.MethodDelete, op: OpDelete},
		{method: p.LockMethod, suffix: p.LockSuffix, op: OpLock},
		{method: p.UnlockMethod, suffix: p.UnlockSuffix, op: OpUnlock},
	}
}

// match returns the operation for method and the state path derived from path.
func (t routeTable) match(method, path string) (Operation, string, bool) {
	for _, r := range t {
		if r.method != method {
			continue
		}
		if r.suffix == "" {
			return r.op, path, true
		}
		if !strings.HasSuffix(path, r.suffix) {
			continue
		}
		statePath := strings.TrimSuffix(path, r.suffix)
		if statePath == "" {
			continue
		}
		return r.op, statePath, true
	}
	return OpUnmatched, "", false
}

// methods lists the distinct verbs the table routes, in table order.
func (t routeTable) methods() []string {
	return lo.Uniq(lo.Compact(lo.Map(t, func(r route, _ int) string { return r.method })))
}
