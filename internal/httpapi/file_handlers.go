package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/apierr"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/audit"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/objectstore"
)

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.opt.Files.ListTopLevelFolders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if folders == nil {
		folders = []objectstore.Folder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders, "total": len(folders)})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxKeys := objectstore.MaxListKeys
	if v := q.Get("maxKeys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, badRequest("Validation Error", "maxKeys must be an integer"))
			return
		}
		maxKeys = n
	}
	res, err := s.opt.Files.ListObjects(r.Context(), objectstore.ListRequest{
		Prefix:            q.Get("prefix"),
		MaxKeys:           maxKeys,
		ContinuationToken: q.Get("continuationToken"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{
		"objects": nonNilObjects(res.Objects),
		"total":   len(res.Objects),
		"hasMore": res.HasMore,
	}
	if res.NextContinuationToken != "" {
		body["nextContinuationToken"] = res.NextContinuationToken
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListFolder(w http.ResponseWriter, r *http.Request) {
	folder := strings.Trim(pathVar(r, "folder"), "/")
	res, err := s.opt.Files.ListObjects(r.Context(), objectstore.ListRequest{
		Prefix:  folder + "/",
		MaxKeys: objectstore.MaxListKeys,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"objects": nonNilObjects(res.Objects),
		"folder":  folder,
		"total":   len(res.Objects),
	})
}

func nonNilObjects(o []objectstore.Object) []objectstore.Object {
	if o == nil {
		return []objectstore.Object{}
	}
	return o
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName    string `json:"fileName"`
		FileSize    int64  `json:"fileSize"`
		ContentType string `json:"contentType"`
		Folder      string `json:"folder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	post, err := s.opt.Files.GenerateUploadURL(r.Context(), objectstore.UploadRequest{
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		Folder:      req.Folder,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identity(r.Context())
	s.opt.Audit.Record(r.Context(), audit.Event{
		Username: id.Username, Action: audit.ActionUploadURL, ResourceType: "object", ResourceID: post.Key,
		Details: map[string]any{"size": req.FileSize, "contentType": req.ContentType},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"uploadUrl": post.URL,
		"fields":    post.Fields,
		"key":       post.Key,
		"expires":   "1 hour",
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := pathVar(r, "key")
	var expiry time.Duration
	if v := r.URL.Query().Get("expires"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, badRequest("Validation Error", "expires must be an integer number of seconds"))
			return
		}
		if n <= 0 {
			s.writeError(w, r, badRequest("Validation Error", "Expiration must be greater than 0"))
			return
		}
		expiry = time.Duration(n) * time.Second
	}
	url, ttl, err := s.opt.Files.GenerateDownloadURL(r.Context(), key, expiry)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identity(r.Context())
	s.opt.Audit.Record(r.Context(), audit.Event{
		Username: id.Username, Action: audit.ActionDownloadURL, ResourceType: "object", ResourceID: key,
		Details: map[string]any{"expiresIn": int(ttl.Seconds())},
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"downloadUrl": url,
		"objectKey":   key,
		"expires":     fmt.Sprintf("%d seconds", int(ttl.Seconds())),
	})
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	key := pathVar(r, "key")
	id := identity(r.Context())
	if denial := requireOwnership(id, "You can only delete your own files", key); denial != nil {
		s.log.Warn("delete denied", "username", id.Username, "key", key)
		s.writeError(w, r, denial)
		return
	}
	if err := s.opt.Files.DeleteObject(r.Context(), key); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.opt.Audit.Record(r.Context(), audit.Event{
		Username: id.Username, Action: audit.ActionDeleteObject, ResourceType: "object", ResourceID: key,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Object '%s' deleted successfully", key)})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FolderName   string `json:"folderName"`
		ParentFolder string `json:"parentFolder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := s.opt.Files.CreateFolder(r.Context(), req.FolderName, req.ParentFolder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identity(r.Context())
	s.opt.Audit.Record(r.Context(), audit.Event{
		Username: id.Username, Action: audit.ActionCreateFolder, ResourceType: "folder", ResourceID: key,
	})
	writeJSON(w, http.StatusCreated, map[string]string{
		"message":   fmt.Sprintf("Folder '%s' created successfully", req.FolderName),
		"folderKey": key,
	})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceKey      string `json:"sourceKey"`
		DestinationKey string `json:"destinationKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SourceKey == "" || req.DestinationKey == "" {
		s.writeError(w, r, badRequest("Missing parameters", "Source key and destination key are required"))
		return
	}
	id := identity(r.Context())
	if denial := requireOwnership(id, "You can only move your own files", req.SourceKey, req.DestinationKey); denial != nil {
		s.writeError(w, r, denial)
		return
	}
	if err := s.opt.Files.MoveObject(r.Context(), req.SourceKey, req.DestinationKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.opt.Audit.Record(r.Context(), audit.Event{
		Username: id.Username, Action: audit.ActionMoveObject, ResourceType: "object", ResourceID: req.SourceKey,
		Details: map[string]any{"destination": req.DestinationKey},
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Object moved successfully from '%s' to '%s'", req.SourceKey, req.DestinationKey),
	})
}

func (s *Server) handleObjectInfo(w http.ResponseWriter, r *http.Request) {
	key := pathVar(r, "key")
	obj, ok, err := s.opt.Files.HeadObject(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, &apierr.Error{
			Kind: apierr.KindNotFound, Status: http.StatusNotFound,
			Title: "Object not found", Message: fmt.Sprintf("Object '%s' does not exist", key),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": obj})
}
