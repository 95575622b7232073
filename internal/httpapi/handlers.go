package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
	"github.com/hamed0406/statuspage/internal/status"
)

type checkPayload struct {
	ID       domain.CheckID `json:"id"`
	Path     string         `json:"path"`
	Protocol string         `json:"protocol"`
	Method   string         `json:"method"`
	Active   *bool          `json:"is_active"`
}

// toCheck applies defaults: https, get and active.
func (p checkPayload) toCheck() (domain.Check, error) {
	c := domain.Check{
		ID:       p.ID,
		Path:     strings.TrimSpace(p.Path),
		Protocol: domain.Protocol(strings.ToLower(strings.TrimSpace(p.Protocol))),
		Method:   domain.Method(strings.ToLower(strings.TrimSpace(p.Method))),
		Active:   true,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Protocol == "" {
		c.Protocol = domain.ProtocolHTTPS
	}
	if c.Method == "" {
		c.Method = domain.MethodGet
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func toChecks(in []checkPayload) ([]domain.Check, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("at least one check is required")
	}
	out := make([]domain.Check, 0, len(in))
	for _, p := range in {
		c, err := p.toCheck()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type createDomainPayload struct {
	Name   string         `json:"name"`
	Owner  string         `json:"owner"`
	Checks []checkPayload `json:"checks"`
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var p createDomainPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if !domain.ValidName(name) {
		writeError(w, http.StatusBadRequest, "invalid domain name")
		return
	}
	checks, err := toChecks(p.Checks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	who := principal(r)
	owner := who.Owner
	if who.Admin {
		owner = strings.TrimSpace(p.Owner)
	}
	d := &domain.Domain{Name: name, Owner: owner, CreatedAt: s.clock()}
	if err := s.Domains.CreateDomain(r.Context(), d, checks); err != nil {
		s.fail(w, r, err)
		return
	}

	s.Logger.Info("domain_created",
		zap.String("domain", d.Name),
		zap.String("owner", d.Owner),
		zap.Int("checks", len(checks)),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"domain": d, "checks": checks})
}

// ownedDomain loads the named domain and enforces ownership. It writes the
// error response itself and returns nil when the caller should stop.
func (s *Server) ownedDomain(w http.ResponseWriter, r *http.Request) *domain.Domain {
	d, err := s.Domains.GetDomain(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		s.fail(w, r, err)
		return nil
	}
	if !principal(r).CanManage(d.Owner) {
		writeError(w, http.StatusForbidden, "must be the domain owner")
		return nil
	}
	return d
}

type domainView struct {
	Domain *domain.Domain       `json:"domain"`
	Status status.DomainStatus  `json:"status"`
	Checks []domain.Check       `json:"checks"`
	Active []status.CheckStatus `json:"active_checks"`
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDomain(w, r)
	if d == nil {
		return
	}
	ctx := r.Context()
	ref := s.clock()

	all, err := s.Checks.ListChecks(ctx, repo.CheckFilter{Domain: d.Name})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	active, err := s.Status.DomainChecks(ctx, d.Name, ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	agg, _, err := s.Status.Domain(ctx, d.Name, ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainView{Domain: d, Status: agg, Checks: all, Active: active})
}

type saveChecksPayload struct {
	Checks []checkPayload `json:"checks"`
}

func (s *Server) handleSaveChecks(w http.ResponseWriter, r *http.Request) {
	var p saveChecksPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	checks, err := toChecks(p.Checks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d := s.ownedDomain(w, r)
	if d == nil {
		return
	}
	saved, err := s.Checks.SaveCheckGroup(r.Context(), d.Name, checks)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Info("checks_saved",
		zap.String("domain", d.Name),
		zap.Int("checks", len(saved)),
		zap.Int("active", domain.CountActive(saved)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"checks": saved})
}

func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	d := s.ownedDomain(w, r)
	if d == nil {
		return
	}
	if err := s.Domains.DeleteDomain(r.Context(), d.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	s.Logger.Info("domain_deleted", zap.String("domain", d.Name))
	w.WriteHeader(http.StatusNoContent)
}

// handleStatusList lists the caller's domains; admins see every owner.
func (s *Server) handleStatusList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Status.Domains(r.Context(), principal(r).Scope(), s.clock())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": rows})
}

func (s *Server) handlePublicStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "domain")
	ref := s.clock()
	checks, err := s.Status.DomainChecks(r.Context(), name, ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(checks) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	agg, _, err := s.Status.Domain(r.Context(), name, ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": agg, "checks": checks})
}
