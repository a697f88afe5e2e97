package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/backend"
	"github.com/JakeFAU/image-crawl-dashboard/internal/bundle"
	"github.com/JakeFAU/image-crawl-dashboard/internal/config"
	"github.com/JakeFAU/image-crawl-dashboard/internal/logging"
)

const maxCrawlBody = 64 << 10

// startCrawl handles POST /api/crawl. A request is validated before the
// backend is contacted; the backend's status and JSON body are relayed as-is.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), s.logger)

	var req backend.CrawlRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCrawlBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Keyword = strings.TrimSpace(req.Keyword)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := s.deps.Crawler.StartCrawl(r.Context(), req)
	if err != nil {
		var berr *backend.Error
		if errors.As(err, &berr) {
			logger.Warn("backend rejected crawl", zap.String("keyword", req.Keyword), zap.Int("status", berr.Status))
			writeError(w, berr.Status, berr.Message)
			return
		}
		logger.Error("crawl request failed", zap.String("keyword", req.Keyword), zap.Error(err))
		writeError(w, http.StatusInternalServerError, backend.DefaultCrawlError)
		return
	}

	logger.Info("crawl started", zap.String("keyword", req.Keyword), zap.Int("status", resp.Status))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		logger.Warn("write crawl response failed", zap.Error(err))
	}
}

// downloadImages handles GET /api/images/download?keyword=.
func (s *Server) downloadImages(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if s.deps.DownloadMode == config.DownloadProxy {
		s.proxyDownload(w, r, keyword)
		return
	}
	logger := logging.FromContext(r.Context(), s.logger)

	archive, err := s.deps.Bundles.Build(r.Context(), keyword)
	if err != nil {
		if errors.Is(err, bundle.ErrNoImages) {
			writeError(w, http.StatusNotFound, "No images found for the given criteria")
			return
		}
		logger.Error("build bundle failed", zap.String("keyword", keyword), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to build image bundle")
		return
	}

	setArchiveHeaders(w.Header(), bundle.ContentType, attachment(bundle.ArchiveName))
	w.WriteHeader(http.StatusOK)
	if _, err := archive.WriteTo(w); err != nil {
		logger.Warn("write bundle failed", zap.String("keyword", keyword), zap.Error(err))
	}
}

func (s *Server) proxyDownload(w http.ResponseWriter, r *http.Request, keyword string) {
	logger := logging.FromContext(r.Context(), s.logger)

	resp, err := s.deps.BundleProxy.DownloadBundle(r.Context(), keyword)
	if err != nil {
		var berr *backend.Error
		if errors.As(err, &berr) {
			writeError(w, berr.Status, berr.Message)
			return
		}
		logger.Error("download bundle failed", zap.String("keyword", keyword), zap.Error(err))
		writeError(w, http.StatusInternalServerError, backend.DefaultDownloadError)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = bundle.ContentType
	}
	disposition := resp.Header.Get("Content-Disposition")
	if disposition == "" {
		disposition = attachment(bundle.ArchiveName)
	}
	setArchiveHeaders(w.Header(), contentType, disposition)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Warn("relay bundle failed", zap.String("keyword", keyword), zap.Error(err))
	}
}

func setArchiveHeaders(h http.Header, contentType, disposition string) {
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", disposition)
	h.Set("Cache-Control", "no-store")
}

func attachment(name string) string {
	return `attachment; filename="` + name + `"`
}
