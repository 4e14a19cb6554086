package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

// createDeploymentReq accepts labels and secrets either as JSON values or
// as JSON-encoded strings.
type createDeploymentReq struct {
	Name      string                `json:"name"`
	Namespace string                `json:"namespace"`
	Runtime   string                `json:"runtime"`
	Image     string                `json:"image"`
	Replicas  int                   `json:"replicas"`
	Labels    deployments.LabelSet  `json:"labels"`
	Secrets   deployments.SecretMap `json:"secrets"`
}

// createDeployment handles POST /deployments
func (a *api) createDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	d := deployments.New(req.Namespace, req.Name, req.Image, req.Replicas)
	d.Runtime = req.Runtime
	d.Labels = req.Labels
	if req.Secrets != nil {
		d.Secrets = req.Secrets
	}
	if err := d.Validate(); err != nil {
		a.fail(w, r, err)
		return
	}

	created, err := a.Deployments.Create(r.Context(), d)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info("deployment created", "deployment", created.ID, "namespace", created.Namespace, "name", created.Name)
	a.notify(created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// listDeployments handles GET /deployments
func (a *api) listDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := deployments.FilterFromMap(map[string]string{
		"namespace": q.Get("namespace"),
		"status":    q.Get("status"),
	})
	list, err := a.Deployments.FindAll(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	for i := range list {
		a.hydrate(r, &list[i])
	}
	writeJSON(w, http.StatusOK, list)
}

// getDeployment handles GET /deployments/{id}
func (a *api) getDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := a.Deployments.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.hydrate(r, &d)
	writeJSON(w, http.StatusOK, d)
}

// deleteDeployment handles DELETE /deployments/{id}. Removal of instances
// happens in the next pass.
func (a *api) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := a.Deployments.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	d.Status = deployments.StatusDeleted
	if err := a.Deployments.Update(r.Context(), d); err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info("deployment marked deleted", "deployment", d.ID)
	a.notify(d.ID)
	w.WriteHeader(http.StatusNoContent)
}

// hydrate replaces the cached instance list with the live one. When the
// runtime cannot be reached the list is shown empty.
func (a *api) hydrate(r *http.Request, d *deployments.Deployment) {
	if a.Runtime == nil {
		return
	}
	live, err := a.Runtime.ListInstances(r.Context(), d.ID)
	if err != nil {
		a.log.Error("instance discovery failed", "deployment", d.ID, "error", err)
		d.Instances = []string{}
		return
	}
	if live == nil {
		live = []string{}
	}
	d.Instances = live
}

func (a *api) notify(id string) {
	if a.Notifier != nil {
		a.Notifier.Notify(id)
	}
}
