package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kThendral/OptimizeHub-sub000/internal/config"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
	"github.com/kThendral/OptimizeHub-sub000/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Submit      usecase.SubmitService
	Results     usecase.ResultService
	Custom      usecase.CustomService
	DockerCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, submit usecase.SubmitService, results usecase.ResultService, custom usecase.CustomService, dockerCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Submit: submit, Results: results, Custom: custom, DockerCheck: dockerCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// problemDTO is the wire shape of a problem. It tolerates the historical
// aliases of fitness_function; normalization happens once, in the usecase.
type problemDTO struct {
	Dimensions      int                   `json:"dimensions" yaml:"dimensions"`
	N               int                   `json:"n" yaml:"n"`
	Bounds          [][]float64           `json:"bounds" yaml:"bounds"`
	Objective       string                `json:"objective" yaml:"objective"`
	FitnessFunction string                `json:"fitness_function" yaml:"fitness_function"`
	Fitness         string                `json:"fitness" yaml:"fitness"`
	Function        string                `json:"function" yaml:"function"`
	ProblemType     string                `json:"problem_type" yaml:"problem_type"`
	Cities          []domain.City         `json:"cities" yaml:"cities"`
	Items           []domain.KnapsackItem `json:"items" yaml:"items"`
	Capacity        float64               `json:"capacity" yaml:"capacity"`
}

func (p problemDTO) toDomain() (domain.ProblemSpec, []string, error) {
	dims := p.Dimensions
	if dims == 0 {
		dims = p.N
	}
	bounds := make([]domain.Bound, 0, len(p.Bounds))
	for i, b := range p.Bounds {
		if len(b) != 2 {
			return domain.ProblemSpec{}, nil, fmt.Errorf("%w: bounds[%d] must be a [lo, hi] pair", domain.ErrInvalidArgument, i)
		}
		bounds = append(bounds, domain.Bound{Lo: b[0], Hi: b[1]})
	}
	spec := domain.ProblemSpec{
		Dimensions:      dims,
		Bounds:          bounds,
		Objective:       p.Objective,
		FitnessFunction: p.FitnessFunction,
		ProblemType:     p.ProblemType,
		Cities:          p.Cities,
		Items:           p.Items,
		Capacity:        p.Capacity,
	}
	return spec, []string{p.Fitness, p.Function}, nil
}

// taskDTO is the wire shape of one job record for polling and streaming.
type taskDTO struct {
	TaskID      string                 `json:"task_id"`
	GroupID     string                 `json:"group_id,omitempty"`
	Algorithm   string                 `json:"algorithm,omitempty"`
	State       string                 `json:"state"`
	Result      *domain.OptimizeResult `json:"result,omitempty"`
	Error       *domain.JobError       `json:"error,omitempty"`
	SubmittedAt *time.Time             `json:"submitted_at,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	Attempts    int                    `json:"attempts,omitempty"`
}

func taskFromJob(j domain.Job) taskDTO {
	dto := taskDTO{
		TaskID:     j.ID,
		GroupID:    j.GroupID,
		Algorithm:  j.Algorithm,
		State:      string(j.State),
		Result:     j.Result,
		Error:      j.Error,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Attempts:   j.Attempts,
	}
	if !j.SubmittedAt.IsZero() {
		t := j.SubmittedAt
		dto.SubmittedAt = &t
	}
	return dto
}

// SubmitHandler accepts one problem fanned out over k algorithms and returns
// the shared group id plus the per-algorithm task ids.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.Cfg.MaxUploadBytes)
		var req struct {
			Algorithms []string           `json:"algorithms" validate:"required,min=1,dive,required"`
			Problem    problemDTO         `json:"problem"`
			Params     map[string]float64 `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: algorithms required", domain.ErrInvalidArgument))
			return
		}
		problem, legacy, err := req.Problem.toDomain()
		if err != nil {
			writeError(w, r, err)
			return
		}
		out, err := s.Submit.Submit(r.Context(), usecase.SubmitRequest{
			Algorithms:         req.Algorithms,
			Problem:            problem,
			Params:             req.Params,
			LegacyFitnessNames: legacy,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"group_id": out.GroupID,
			"task_ids": out.TaskIDs,
		})
	}
}

// ResultHandler is the single-shot poll endpoint.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument))
			return
		}
		job, err := s.Results.Fetch(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, taskFromJob(job))
	}
}

// CustomHandler runs user-authored fitness source synchronously in the
// sandbox. Multipart fields: fitness_file (.py) and config_file (.yaml).
func (s *Server) CustomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument))
			return
		}
		// Each part is capped to MaxUploadBytes; the whole body to twice that.
		r.Body = http.MaxBytesReader(w, r.Body, 2*s.Cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(2 * s.Cfg.MaxUploadBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeErrorKind(w, http.StatusRequestEntityTooLarge, domain.KindValidation,
					fmt.Sprintf("payload exceeds %d bytes", s.Cfg.MaxUploadBytes))
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}

		source, err := s.readPart(r, "fitness_file", []string{".py"})
		if err != nil {
			writeError(w, r, err)
			return
		}
		configText, err := s.readPart(r, "config_file", []string{".yaml", ".yml"})
		if err != nil {
			writeError(w, r, err)
			return
		}

		var cfg struct {
			Algorithm string             `yaml:"algorithm"`
			Problem   problemDTO         `yaml:"problem"`
			Params    map[string]float64 `yaml:"params"`
		}
		if err := yaml.Unmarshal(configText, &cfg); err != nil {
			writeError(w, r, fmt.Errorf("%w: config_file: %v", domain.ErrInvalidArgument, err))
			return
		}
		problem, legacy, err := cfg.Problem.toDomain()
		if err != nil {
			writeError(w, r, err)
			return
		}
		problem = domain.NormalizeProblem(problem, legacy...)

		result, err := s.Custom.Run(r.Context(), usecase.CustomRequest{
			Algorithm: cfg.Algorithm,
			Problem:   problem,
			Params:    cfg.Params,
			Source:    string(source),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// readPart reads one multipart file with extension and content checks.
func (s *Server) readPart(r *http.Request, field string, exts []string) ([]byte, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %s required", domain.ErrInvalidArgument, field)
	}
	defer func() { _ = file.Close() }()

	ok := false
	name := strings.ToLower(header.Filename)
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s must have suffix %s", domain.ErrInvalidArgument, field, strings.Join(exts, " or "))
	}

	data, err := io.ReadAll(io.LimitReader(file, s.Cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s read: %v", domain.ErrInvalidArgument, field, err)
	}
	if int64(len(data)) > s.Cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrInvalidArgument, field, s.Cfg.MaxUploadBytes)
	}

	// Both accepted suffixes carry text payloads; sniff to reject binaries
	// masquerading behind a friendly filename.
	if m := mimetype.Detect(data); !strings.HasPrefix(m.String(), "text/") && m.String() != "application/x-yaml" {
		return nil, fmt.Errorf("%w: %s content type %s not accepted", domain.ErrInvalidArgument, field, m.String())
	}
	return data, nil
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the Docker daemon the sandbox depends on.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 1)
		if s.DockerCheck != nil {
			if err := s.DockerCheck(ctx); err != nil {
				checks = append(checks, check{Name: "docker", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "docker", OK: true})
			}
		}
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
