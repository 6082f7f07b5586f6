package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/pagination"
	"github.com/sys3222/akshare-mcp-adapter/internal/tools"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, errs.Wrap(errs.InvalidParameters, "malformed form body", err))
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	if _, err := s.credentials.Authenticate(r.Context(), username, password); err != nil {
		writeErr(w, err)
		return
	}
	token, err := s.tokens.Issue(username)
	if err != nil {
		writeErr(w, errs.Wrap(errs.Internal, "issuing token failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": usernameFrom(r)})
}

func (s *Server) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

type fetchDataRequest struct {
	Interface string            `json:"interface"`
	Params    map[string]string `json:"params"`
	RequestID string            `json:"request_id"`
}

func (s *Server) handleFetchData(w http.ResponseWriter, r *http.Request) {
	var req fetchDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.Wrap(errs.InvalidParameters, "malformed request body", err))
		return
	}

	table, err := s.cache.GetOrCompute(r.Context(), req.Interface, req.Params)
	if err != nil {
		writeErr(w, err)
		return
	}

	page, pageSize := pagingFromQuery(r)
	writeJSON(w, http.StatusOK, pagination.Paginate(table, page, pageSize))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, errs.Wrap(errs.InvalidParameters, "missing multipart file", err))
		return
	}
	defer file.Close()

	if err := s.fileStore.Upload(r.Context(), usernameFrom(r), header.Filename, file); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": header.Filename})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.fileStore.List(usernameFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if err := s.fileStore.Delete(usernameFrom(r), filename); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExploreFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	page, pageSize := pagingFromQuery(r)
	result, err := s.fileStore.Browse(usernameFrom(r), filename, page, pageSize)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleLLMChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.Wrap(errs.InvalidParameters, "malformed request body", err))
		return
	}
	caller := tools.Caller{Username: usernameFrom(r)}
	envelope, err := s.dispatcher.Analyze(r.Context(), req.Prompt, caller, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": envelope.Summary})
}

type analyzeRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleLLMAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.Wrap(errs.InvalidParameters, "malformed request body", err))
		return
	}
	useLLM := r.URL.Query().Get("use_llm") != "false"
	caller := tools.Caller{Username: usernameFrom(r)}

	envelope, err := s.dispatcher.Analyze(r.Context(), req.Query, caller, !useLLM)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

func pagingFromQuery(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		pageSize = v
	}
	return page, pageSize
}
