package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/domain"
	"github.com/Diegomcha/netquery/internal/inventory"
	"github.com/Diegomcha/netquery/internal/orchestrator"
	"github.com/Diegomcha/netquery/internal/session"
	"github.com/Diegomcha/netquery/internal/stream"
	"github.com/Diegomcha/netquery/internal/version"
)

// InventoryUpload is one inventory file sent inline
type InventoryUpload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// DeviceRequest is a device given directly instead of through an inventory
type DeviceRequest struct {
	Host       string `json:"host"`
	Hostname   string `json:"hostname,omitempty"`
	Port       int    `json:"port,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Group      string `json:"group,omitempty"`
	Label      string `json:"label,omitempty"`
}

// JobRequest is the body of POST /api/jobs
type JobRequest struct {
	Inventories []InventoryUpload `json:"inventories,omitempty"`
	Devices     []DeviceRequest   `json:"devices,omitempty"`
	Groups      []string          `json:"groups,omitempty"`
	DeviceType  string            `json:"device_type,omitempty"`
	Commands    []string          `json:"commands,omitempty"`
	Expect      []string          `json:"expect,omitempty"`
	OutputRegex string            `json:"output_regex,omitempty"`
	AccessCheck bool              `json:"access_check,omitempty"`
	Username    string            `json:"username,omitempty"`
	Password    string            `json:"password,omitempty"`
	Workers     int               `json:"workers,omitempty"`
}

// JobResponse is returned when a job is accepted
type JobResponse struct {
	ID        string          `json:"id"`
	State     domain.JobState `json:"state"`
	Total     int             `json:"total"`
	Artifact  string          `json:"artifact"`
	Stream    string          `json:"stream"`
	WebSocket string          `json:"websocket"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
		"jobs":    s.jobs.len(),
	})
}

func (s *Server) listDeviceTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supportedDeviceTypes())
}

// supportedDeviceTypes merges configured types with the session defaults, sorted.
func (s *Server) supportedDeviceTypes() []string {
	types := append(slices.Clone(s.deviceTypes), session.SupportedDeviceTypes...)
	slices.Sort(types)
	return slices.Compact(types)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req JobRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	spec, err := s.buildSpec(&req)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	job := s.orch.Submit(r.Context(), spec)
	s.jobs.add(job)

	resp := JobResponse{
		ID:        job.ID,
		State:     job.State(),
		Total:     len(spec.Devices),
		Artifact:  job.Name(),
		Stream:    "/api/jobs/" + job.ID + "/stream",
		WebSocket: "/api/jobs/" + job.ID + "/ws",
	}
	if err := job.Err(); err != nil {
		resp.Error = err.Error()
		writeJSON(w, apperrors.HTTPStatus(err), resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// buildSpec resolves the request's devices. Inventory and device-type
// problems are validation errors; everything about the command set is left
// to the orchestrator so an invalid spec still registers an errored job.
func (s *Server) buildSpec(req *JobRequest) (orchestrator.JobSpec, error) {
	deviceType := req.DeviceType
	if deviceType == "" {
		deviceType = s.defaultDeviceType
	} else if !slices.Contains(s.supportedDeviceTypes(), deviceType) {
		return orchestrator.JobSpec{}, apperrors.Validation("device_type", fmt.Sprintf("unsupported device type %q", deviceType))
	}

	inv := &inventory.Inventory{}
	for _, up := range req.Inventories {
		name := filepath.Base(up.Name)
		if name == "." || name == string(filepath.Separator) {
			return orchestrator.JobSpec{}, apperrors.Validation("inventories", "inventory file has no name")
		}
		file, err := inventory.Parse(name, strings.NewReader(up.Content))
		if err != nil {
			return orchestrator.JobSpec{}, apperrors.Validation("inventories", err.Error())
		}
		inv.Files = append(inv.Files, file)
	}

	var devices []domain.Device
	if inv.FileCount() > 0 {
		selected, err := inv.Select(req.Groups, deviceType)
		if err != nil {
			return orchestrator.JobSpec{}, err
		}
		devices = selected
	}
	for _, d := range req.Devices {
		dev := domain.Device{
			File:       "request",
			Group:      d.Group,
			Label:      d.Label,
			Hostname:   d.Hostname,
			Address:    d.Host,
			Port:       d.Port,
			DeviceType: d.DeviceType,
		}
		if dev.Group == "" {
			dev.Group = inventory.DefaultGroup
		}
		if dev.Label == "" {
			dev.Label = d.Host
		}
		if dev.DeviceType == "" {
			dev.DeviceType = deviceType
		}
		devices = append(devices, dev)
	}

	username := req.Username
	if username == "" {
		username = s.defaultUsername
	}
	return orchestrator.JobSpec{
		Devices:     devices,
		Commands:    req.Commands,
		Expect:      req.Expect,
		OutputRegex: req.OutputRegex,
		AccessCheck: req.AccessCheck,
		Credentials: session.Credentials{Username: username, Password: req.Password},
		Workers:     req.Workers,
	}, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := stream.ServeSSE(w, r, job); err != nil {
		s.handleError(w, r, err)
	}
}

func (s *Server) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := s.ws.Serve(w, r, job); err != nil {
		s.handleError(w, r, err)
	}
}

// stopJob is the out-of-band stop trigger for SSE clients.
func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.get(id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := s.orch.Cancel(id); errors.Is(err, apperrors.ErrNotFound) {
		// Forgotten by the orchestrator already; the handle still accepts the cancel.
		job.Cancel()
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) jobArtifact(w http.ResponseWriter, r *http.Request) {
	format, err := artifact.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if job, err := s.jobs.get(id); err == nil {
		a, ok := job.Artifact()
		if !ok {
			s.handleError(w, r, apperrors.Conflict("job", id, "no artifact until the job ends"))
			return
		}
		s.writeArtifact(w, a, format)
		return
	}

	if s.store == nil {
		s.handleError(w, r, apperrors.NotFound("artifact", id))
		return
	}
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeArtifact(w, a, format)
}

// namedArtifact serves the download name announced by the terminal frame.
// Asking for the name with another extension converts: a request for
// "x.txt" serves the artifact "x.csv" as a text table.
func (s *Server) namedArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	format := artifact.FormatFromFilename(name)
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := artifact.ParseFormat(q)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		format = f
	}
	if s.store == nil {
		s.handleError(w, r, apperrors.NotFound("artifact", name))
		return
	}

	a, err := s.store.Find(r.Context(), artifact.FormatCSV.FileName(name))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeArtifact(w, a, format)
}

func (s *Server) writeArtifact(w http.ResponseWriter, a *artifact.Artifact, format artifact.Format) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.FileName(a.Name)))
	w.Header().Set("Last-Modified", a.CreatedAt.UTC().Format(http.TimeFormat))
	if err := artifact.Write(w, format, a.Records); err != nil {
		s.logger.Error("writing artifact", "artifact", a.Name, "error", err)
	}
}

// handleError maps an error to a status code and JSON body
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if errors.Is(err, stream.ErrStreamingUnsupported) {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		s.logger.Error("Internal error", "error", err, "path", r.URL.Path)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON decodes exactly one JSON value, rejecting unknown fields.
func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
