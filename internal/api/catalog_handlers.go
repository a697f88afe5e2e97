package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/gallery"
	"github.com/JakeFAU/image-crawl-dashboard/internal/logging"
	"github.com/JakeFAU/image-crawl-dashboard/internal/views"
)

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ReadTimeout)
	defer cancel()
	out, err := s.deps.Views.Dashboard(ctx)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("load dashboard failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) crawlJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ReadTimeout)
	defer cancel()
	out, err := s.deps.Views.CrawlJobs(ctx)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("list crawl jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawl jobs")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// deleteCrawlJob handles DELETE /api/crawl-jobs/{job_id}. The caller must
// confirm with ?confirm=true or X-Confirm-Delete: true; otherwise 428.
func (s *Server) deleteCrawlJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseUUIDParam(r, "job_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !deleteConfirmed(r) {
		writeError(w, http.StatusPreconditionRequired, "deletion must be confirmed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ReadTimeout)
	defer cancel()

	logger := logging.FromContext(r.Context(), s.logger)
	if err := s.deps.Repo.DeleteCrawlJob(ctx, jobID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl job not found")
			return
		}
		logger.Error("delete crawl job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete crawl job")
		return
	}
	logger.Info("crawl job deleted", zap.String("job_id", jobID))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "deleted"})
}

func deleteConfirmed(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("confirm"), "true") ||
		strings.EqualFold(r.Header.Get("X-Confirm-Delete"), "true")
}

func (s *Server) images(w http.ResponseWriter, r *http.Request) {
	params, err := imagesParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ReadTimeout)
	defer cancel()
	out, err := s.deps.Views.Images(ctx, params)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("list images failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) imageDetail(w http.ResponseWriter, r *http.Request) {
	imageID, err := parseUUIDParam(r, "image_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ReadTimeout)
	defer cancel()
	img, err := s.deps.Repo.GetImage(ctx, imageID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		logging.FromContext(r.Context(), s.logger).Error("get image failed", zap.String("image_id", imageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load image")
		return
	}
	writeJSON(w, http.StatusOK, gallery.NewDetail(img))
}

func imagesParams(r *http.Request) (views.ImagesParams, error) {
	q := r.URL.Query()
	order, err := catalog.ParseSortOrder(q.Get("sort"))
	if err != nil {
		return views.ImagesParams{}, err //nolint:wrapcheck
	}
	return views.ImagesParams{
		Keyword:  strings.TrimSpace(q.Get("keyword")),
		Order:    order,
		Selected: strings.TrimSpace(q.Get("selected")),
	}, nil
}
