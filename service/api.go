package service

import (
	"net/http"
	"strconv"

	"github.com/conveyor-ci/conveyor"
	"github.com/conveyor-ci/conveyor/model/run"
	"github.com/evergreen-ci/gimlet"
	"github.com/mongodb/amboy"
	"github.com/pkg/errors"
)

func (s *Service) listRuns(w http.ResponseWriter, r *http.Request) {
	opts := run.ListOptions{
		PipelineName: r.URL.Query().Get("pipeline"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			gimlet.WriteJSONError(w, gimlet.ErrorResponse{
				StatusCode: http.StatusBadRequest,
				Message:    "limit must be a non-negative integer",
			})
			return
		}
		opts.Limit = n
	}

	runs, err := s.store.List(r.Context(), opts)
	if err != nil {
		gimlet.WriteJSONInternalError(w, gimlet.ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Message:    errors.Wrap(err, "listing runs").Error(),
		})
		return
	}

	gimlet.WriteJSON(w, runs)
}

func (s *Service) getRun(w http.ResponseWriter, r *http.Request) {
	id := gimlet.GetVars(r)["run_id"]

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			gimlet.WriteJSONResponse(w, http.StatusNotFound, gimlet.ErrorResponse{
				StatusCode: http.StatusNotFound,
				Message:    errors.Wrapf(run.ErrRunNotFound, "run '%s'", id).Error(),
			})
			return
		}
		gimlet.WriteJSONInternalError(w, gimlet.ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Message:    errors.Wrapf(err, "getting run '%s'", id).Error(),
		})
		return
	}

	gimlet.WriteJSON(w, rec)
}

func (s *Service) serviceStatus(w http.ResponseWriter, r *http.Request) {
	out := struct {
		BuildRevision string           `json:"build_revision"`
		ClientVersion string           `json:"client_version"`
		Pipelines     []string         `json:"pipelines"`
		JobQueue      amboy.QueueStats `json:"job_queue"`
		RunQueue      amboy.QueueStats `json:"run_queue"`
	}{
		BuildRevision: conveyor.BuildRevision,
		ClientVersion: conveyor.ClientVersion,
		Pipelines:     []string{},
		JobQueue:      s.env.LocalQueue().Stats(r.Context()),
		RunQueue:      s.env.RunsQueue().Stats(r.Context()),
	}
	for i := range s.pipelines {
		out.Pipelines = append(out.Pipelines, s.pipelines[i].Name)
	}

	gimlet.WriteJSON(w, &out)
}
