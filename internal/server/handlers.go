package server

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/parser"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/worker"
)

// maxTimeoutSeconds caps the per-request timeout override
const maxTimeoutSeconds = 60

// CheckRequest is the body of POST /api/check. Entries accept every form the
// parser reads, e.g. "1.2.3.4:8080@user:pass".
type CheckRequest struct {
	Proxy          string   `json:"proxy,omitempty"`
	Proxies        []string `json:"proxies,omitempty"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	Protocols      []string `json:"protocols,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// CheckResponse is the reply of POST /api/check
type CheckResponse struct {
	Reports []*proxy.Report `json:"reports"`
	Summary worker.Summary  `json:"summary"`
}

// ExtractResponse is the reply of POST /api/extract
type ExtractResponse struct {
	Proxies []proxy.Proxy `json:"proxies"`
	Count   int           `json:"count"`
}

// ClassifyRequest is the body of POST /api/classify. An empty RealIP means
// the server's own IP.
type ClassifyRequest struct {
	IPReports    []string `json:"ip_reports"`
	JudgeReports []string `json:"judge_reports"`
	RealIP       string   `json:"real_ip,omitempty"`
}

// ClassifyResponse is the reply of POST /api/classify
type ClassifyResponse struct {
	Anonymity    proxy.AnonymityGrade `json:"anonymity"`
	Grade        string               `json:"grade"`
	ProxyHeaders []string             `json:"proxy_headers"`
	Chain        string               `json:"chain,omitempty"`
	RealIP       string               `json:"real_ip"`
}

type errorResponse struct {
	Error string          `json:"error"`
	Code  errors.ErrorCode `json:"code,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !s.decode(w, r, &req) {
		return
	}

	proxies, err := s.proxiesFor(req)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	template, err := s.templateFor(req)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	var (
		mu      sync.Mutex
		reports = make(map[string]*proxy.Report, len(proxies))
	)
	summary, err := s.manager.Run(r.Context(), proxies, template, func(p proxy.Proxy, report *proxy.Report) {
		mu.Lock()
		reports[p.Address] = report
		mu.Unlock()
		s.hub.Broadcast(MessageReport, report)
	})
	if err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	s.hub.Broadcast(MessageSummary, summary)

	resp := CheckResponse{Reports: make([]*proxy.Report, 0, len(reports)), Summary: summary}
	for _, p := range proxies {
		if report, ok := reports[p.Address]; ok {
			resp.Reports = append(resp.Reports, report)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) proxiesFor(req CheckRequest) ([]proxy.Proxy, error) {
	entries := req.Proxies
	if req.Proxy != "" {
		entries = append([]string{req.Proxy}, entries...)
	}
	if len(entries) == 0 {
		return nil, errors.NewRequestError(errors.ErrorRequestInvalid, "no proxy given", nil)
	}
	if len(entries) > s.opts.MaxBatch {
		return nil, errors.NewRequestError(errors.ErrorRequestTooLarge,
			fmt.Sprintf("at most %d proxies per request", s.opts.MaxBatch), nil).
			WithDetail("count", len(entries))
	}

	seen := make(map[string]bool, len(entries))
	proxies := make([]proxy.Proxy, 0, len(entries))
	for _, entry := range entries {
		found := parser.ExtractProxies(entry, 1)
		if len(found) == 0 {
			return nil, errors.NewRequestError(errors.ErrorRequestInvalid, "not a proxy address", nil).
				WithDetail("entry", entry)
		}
		p := found[0]
		if seen[p.Address] {
			continue
		}
		seen[p.Address] = true
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func (s *Server) templateFor(req CheckRequest) (proxy.CheckerOptions, error) {
	template := s.opts.Template
	template.Protocols = append([]proxy.Protocol(nil), template.Protocols...)

	if len(req.Protocols) > 0 {
		protocols, err := proxy.ParseProtocols(strings.Join(req.Protocols, ","))
		if err != nil {
			return template, errors.NewRequestError(errors.ErrorRequestInvalid, "bad protocol list", err)
		}
		template.Protocols = protocols
	}
	if req.Username != "" || req.Password != "" {
		template.Username = req.Username
		template.Password = req.Password
	}
	if req.TimeoutSeconds < 0 || req.TimeoutSeconds > maxTimeoutSeconds {
		return template, errors.NewRequestError(errors.ErrorRequestInvalid,
			fmt.Sprintf("timeout_seconds must be between 1 and %d", maxTimeoutSeconds), nil)
	}
	if req.TimeoutSeconds > 0 {
		template.TimeoutSeconds = req.TimeoutSeconds
	}
	return template.WithDefaults(), nil
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.ParseLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, http.StatusBadRequest, errors.NewRequestError(errors.ErrorRequestInvalid, "limit must be a positive integer", err))
			return
		}
		if n < limit {
			limit = n
		}
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var proxies []proxy.Proxy
	if isHTML(r) {
		var err error
		proxies, err = parser.ExtractFromHTML(bytes.NewReader(body), limit)
		if err != nil {
			s.fail(w, http.StatusBadRequest, errors.NewRequestError(errors.ErrorRequestInvalid, "unreadable html", err))
			return
		}
	} else {
		proxies = parser.ExtractProxies(string(body), limit)
	}
	if proxies == nil {
		proxies = []proxy.Proxy{}
	}
	writeJSON(w, http.StatusOK, ExtractResponse{Proxies: proxies, Count: len(proxies)})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	realIP := strings.TrimSpace(req.RealIP)
	if realIP == "" {
		ip, err := s.ipCache.CurrentIP(r.Context())
		if err != nil {
			s.fail(w, http.StatusServiceUnavailable, err)
			return
		}
		realIP = ip
	}

	ipReports := judgeReports(req.IPReports)
	headerReports := judgeReports(req.JudgeReports)

	headers := make(map[string]string)
	for _, report := range headerReports {
		for name, value := range proxy.ParseJudgeHeaders(report.Content) {
			headers[name] = value
		}
	}
	_, chain := proxy.DetectProxyChain(headers)

	grade := proxy.ClassifyAnonymity(ipReports, headerReports, realIP)
	found := proxy.ProxyIndicatingHeaders(headers)
	if found == nil {
		found = []string{}
	}
	writeJSON(w, http.StatusOK, ClassifyResponse{
		Anonymity:    grade,
		Grade:        grade.String(),
		ProxyHeaders: found,
		Chain:        chain,
		RealIP:       realIP,
	})
}

func (s *Server) handleCurrentIP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "1" {
		s.ipCache.Invalidate()
	}
	ip, err := s.ipCache.CurrentIP(r.Context())
	if err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current_ip": ip})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, cached := s.ipCache.Peek()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"uptime":           time.Since(s.started).Round(time.Second).String(),
		"stream_clients":   s.hub.Clients(),
		"current_ip_ready": cached,
	})
}

func judgeReports(bodies []string) []proxy.JudgeReport {
	reports := make([]proxy.JudgeReport, 0, len(bodies))
	for _, b := range bodies {
		reports = append(reports, proxy.JudgeReport{Content: b})
	}
	return reports
}

func isHTML(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		s.bodyError(w, err)
		return nil, false
	}
	return body, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.fail(w, http.StatusBadRequest, errors.NewRequestError(errors.ErrorRequestInvalid, "invalid JSON body", err))
		return false
	}
	return true
}

func (s *Server) bodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		s.fail(w, http.StatusRequestEntityTooLarge, errors.NewRequestError(errors.ErrorRequestTooLarge,
			fmt.Sprintf("body larger than %d bytes", tooLarge.Limit), nil))
		return
	}
	s.fail(w, http.StatusBadRequest, errors.NewRequestError(errors.ErrorRequestInvalid, "unreadable body", err))
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var pe *errors.ProxyError
	if stderrors.As(err, &pe) {
		resp.Code = pe.Code
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "status", status, "error", err)
		if s.metrics != nil {
			s.metrics.RecordError(strings.ToLower(errors.GetErrorCategory(err)))
		}
	} else {
		s.logger.Debug("Request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
