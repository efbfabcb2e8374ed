// Package api exposes the synchronizer over HTTP. Authentication lives
// upstream; callers are identified by the X-Owner-ID header the session
// layer injects.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/leehyunsuck/sub-dns/internal/ledger"
	"github.com/leehyunsuck/sub-dns/internal/pdns"
	"github.com/leehyunsuck/sub-dns/internal/policy"
	"github.com/leehyunsuck/sub-dns/internal/syncer"
	"github.com/leehyunsuck/sub-dns/internal/zones"
)

const ownerHeader = "X-Owner-ID"

// Syncer is the record synchronizer surface the handlers call.
type Syncer interface {
	AddRecord(ctx context.Context, ownerID, label, zone, recordType, content string) error
	DeleteRecord(ctx context.Context, ownerID, label, zone, recordType string) error
	DeleteAllRecords(ctx context.Context, ownerID, label, zone string) error
	Renew(ctx context.Context, ownerID, fullDomain string) error
	PurgeZone(ctx context.Context, zone string) error
}

// Ledger is the read surface the handlers need.
type Ledger interface {
	GetOwner(ctx context.Context, id string) (*ledger.Owner, error)
	FindByOwner(ctx context.Context, ownerID string) ([]ledger.Lease, error)
	ExistsFullDomain(ctx context.Context, fullDomain string) (bool, error)
}

// Searcher exposes the provider's record search for read-only passthrough.
type Searcher interface {
	Search(ctx context.Context, fullDomain string) ([]pdns.SearchResult, error)
}

type Server struct {
	syncer Syncer
	ledger Ledger
	search Searcher
	zones  *zones.Directory
	log    hclog.Logger
}

func NewServer(s Syncer, ldg Ledger, search Searcher, dir *zones.Directory, log hclog.Logger) *Server {
	return &Server{syncer: s, ledger: ldg, search: search, zones: dir, log: log}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := hclog.WithContext(req.Context(), s.log, "request_id", middleware.GetReqID(req.Context()))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/records", s.addRecord)
		r.Delete("/records/{label}/{zone}/{type}", s.deleteRecord)
		r.Delete("/domains/{label}/{zone}", s.deleteDomain)
		r.Patch("/domains/{label}/{zone}/renew", s.renewDomain)
		r.Get("/my-domains", s.myDomains)
		r.Get("/available-domains/{label}", s.availableDomains)
		r.Get("/records/{fullDomain}", s.getRecords)
		r.Delete("/admin/zones/{zone}", s.purgeZone)
	})

	return r
}

type addRecordRequest struct {
	Label   string `json:"label"`
	Zone    string `json:"zone"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Server) addRecord(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var body addRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Error("malformed add-record request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logger.Info("add record requested",
		"owner", ownerID, "label", body.Label, "zone", body.Zone, "type", body.Type)
	if err := s.syncer.AddRecord(r.Context(), ownerID, body.Label, body.Zone, body.Type, body.Content); err != nil {
		s.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	label, zone, recordType := chi.URLParam(r, "label"), chi.URLParam(r, "zone"), chi.URLParam(r, "type")
	if err := s.syncer.DeleteRecord(r.Context(), ownerID, label, zone, recordType); err != nil {
		s.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteDomain(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	label, zone := chi.URLParam(r, "label"), chi.URLParam(r, "zone")
	if err := s.syncer.DeleteAllRecords(r.Context(), ownerID, label, zone); err != nil {
		s.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renewDomain(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	fullDomain := chi.URLParam(r, "label") + "." + chi.URLParam(r, "zone")
	if err := s.syncer.Renew(r.Context(), ownerID, fullDomain); err != nil {
		s.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type ownedDomain struct {
	Label      string `json:"label"`
	Zone       string `json:"zone"`
	Type       string `json:"type"`
	ExpiryDate string `json:"expiryDate"`
}

func (s *Server) myDomains(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	leases, err := s.ledger.FindByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}

	out := make([]ownedDomain, 0, len(leases))
	for _, l := range leases {
		label, zone := splitFullDomain(l.FullDomain)
		out = append(out, ownedDomain{
			Label:      label,
			Zone:       zone,
			Type:       l.RecordType,
			ExpiryDate: l.ExpiryDate.Format("2006-01-02"),
		})
	}
	s.writeJSON(w, logger, out)
}

type zoneAvailability struct {
	Name   string `json:"name"`
	CanAdd bool   `json:"canAdd"`
}

type availableDomainsResponse struct {
	Label string             `json:"label"`
	Zones []zoneAvailability `json:"zones"`
}

func (s *Server) availableDomains(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	privileged := false
	if owner, err := s.ledger.GetOwner(r.Context(), ownerID); err == nil {
		privileged = owner.Privileged
	}

	label := strings.ToLower(chi.URLParam(r, "label"))
	labelOK := policy.ValidLabel(label, privileged)

	resp := availableDomainsResponse{Label: label}
	for _, zone := range s.zones.Current() {
		canAdd := labelOK
		if canAdd {
			taken, err := s.ledger.ExistsFullDomain(r.Context(), label+"."+zone)
			if err != nil {
				s.writeError(w, logger, err)
				return
			}
			canAdd = !taken
		}
		resp.Zones = append(resp.Zones, zoneAvailability{Name: zone, CanAdd: canAdd})
	}
	s.writeJSON(w, logger, resp)
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	if _, ok := s.ownerID(w, r); !ok {
		return
	}

	results, err := s.search.Search(r.Context(), chi.URLParam(r, "fullDomain"))
	if err != nil {
		logger.Error("record search failed", "error", err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if results == nil {
		results = []pdns.SearchResult{}
	}
	s.writeJSON(w, logger, results)
}

func (s *Server) purgeZone(w http.ResponseWriter, r *http.Request) {
	logger := hclog.FromContext(r.Context())
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	owner, err := s.ledger.GetOwner(r.Context(), ownerID)
	if err != nil || !owner.Privileged {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	zone := chi.URLParam(r, "zone")
	logger.Info("zone teardown requested", "owner", ownerID, "zone", zone)
	if err := s.syncer.PurgeZone(r.Context(), zone); err != nil {
		s.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return "", false
	}
	return ownerID, true
}

// writeError maps synchronizer error kinds to statuses. Internal failures
// never echo remote-service details to the caller.
func (s *Server) writeError(w http.ResponseWriter, logger hclog.Logger, err error) {
	switch {
	case errors.Is(err, syncer.ErrPolicyViolation):
		s.writeErrorBody(w, http.StatusBadRequest, "policy violation")
	case errors.Is(err, syncer.ErrOwnerNotFound), errors.Is(err, syncer.ErrNotFound):
		s.writeErrorBody(w, http.StatusNotFound, "not found")
	case errors.Is(err, syncer.ErrNotOwner):
		s.writeErrorBody(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, syncer.ErrQuotaExceeded):
		s.writeErrorBody(w, http.StatusConflict, "quota exceeded")
	case errors.Is(err, syncer.ErrNotRenewable):
		s.writeErrorBody(w, http.StatusBadRequest, "not renewable yet")
	case errors.Is(err, syncer.ErrBusy):
		w.Header().Set("Retry-After", "5")
		s.writeErrorBody(w, http.StatusServiceUnavailable, "busy, retry later")
	case errors.Is(err, syncer.ErrRemoteRejected):
		logger.Error("authoritative service rejected the change", "error", err)
		s.writeErrorBody(w, http.StatusBadGateway, "upstream rejected the change")
	default:
		logger.Error("internal error", "error", err)
		s.writeErrorBody(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeErrorBody(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, logger hclog.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("error encoding response", "error", err)
	}
}

func splitFullDomain(fullDomain string) (label, zone string) {
	idx := strings.Index(fullDomain, ".")
	if idx < 0 {
		return fullDomain, ""
	}
	return fullDomain[:idx], fullDomain[idx+1:]
}
