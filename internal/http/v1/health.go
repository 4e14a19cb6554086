package v1

import (
	"net/http"
)

type healthResp struct {
	Status  string `json:"status"`
	Runtime string `json:"runtime"`
	Store   string `json:"store"`
}

// healthz handles GET /healthz
func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResp{Status: "ok", Runtime: "ok", Store: "ok"}
	status := http.StatusOK
	if a.Runtime != nil {
		if err := a.Runtime.Ping(r.Context()); err != nil {
			resp.Runtime, resp.Status, status = err.Error(), "degraded", http.StatusServiceUnavailable
		}
	}
	if a.DB != nil {
		if err := a.DB.Ping(r.Context()); err != nil {
			resp.Store, resp.Status, status = err.Error(), "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
