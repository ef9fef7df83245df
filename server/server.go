package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// maxMultipartOverhead is the extra request body allowance for multipart
// framing on top of the file size limit
const maxMultipartOverhead = 2 * 1024 * 1024

// Server represents the File Manager server
type Server struct {
	config    *Config
	registry  *FileRegistry
	blobStore BlobStore
	cache     Cache
	grpcSrv   *grpc.Server
	healthSrv *health.Server
}

// NewServer creates a new File Manager server
func NewServer(config *Config) (*Server, error) {
	// Create S3 blob store
	s3Store, err := NewS3BlobStore(config.AWS.Region, config.AWS.S3.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %v", err)
	}

	// Create Redis cache or use NoOpCache if Redis is not available
	var cache Cache = &NoOpCache{}
	if config.AWS.ElastiCache.Address != "" {
		// Use a shorter timeout for Redis connection
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		redisCache, err := NewRedisCache(ctx, config.AWS.ElastiCache.Address, config.AWS.ElastiCache.TTL)
		if err != nil {
			log.Printf("Warning: Failed to create Redis cache: %v. Continuing with NoOpCache.", err)
		} else {
			cache = redisCache
			log.Printf("Successfully connected to Redis cache at %s", config.AWS.ElastiCache.Address)
		}
	} else {
		log.Printf("No Redis address configured. Using NoOpCache.")
	}

	srv := newServerWithStore(config, s3Store, cache)

	// Make sure the upload bucket exists before serving requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.blobStore.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %v", config.AWS.S3.BucketName, err)
	}

	return srv, nil
}

// newServerWithStore wires a server around an already constructed blob
// store and cache
func newServerWithStore(config *Config, store BlobStore, cache Cache) *Server {
	blobStore := NewCachedBlobStore(store, cache)

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	return &Server{
		config:    config,
		registry:  NewFileRegistry(blobStore),
		blobStore: blobStore,
		cache:     cache,
		grpcSrv:   grpcSrv,
		healthSrv: healthSrv,
	}
}

// Handler returns the HTTP handler serving the File Manager API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/", s.handleFileByName)
	mux.HandleFunc(downloadPathPrefix, s.handleDownload)

	return mux
}

// Start starts the server
func (s *Server) Start() error {
	// Start gRPC server
	go func() {
		addr := fmt.Sprintf(":%d", s.config.Server.GRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("Failed to listen on %s: %v", addr, err)
		}
		log.Printf("gRPC server listening on %s", addr)
		if err := s.grpcSrv.Serve(lis); err != nil {
			log.Fatalf("Failed to serve gRPC: %v", err)
		}
	}()

	s.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	log.Printf("HTTP server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Stop stops the server
func (s *Server) Stop() {
	s.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.grpcSrv.GracefulStop()
	if s.cache != nil {
		if closer, ok := s.cache.(io.Closer); ok {
			closer.Close()
		}
	}
}

// handleRoot serves the static landing page
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	index := filepath.Join(s.config.Server.StaticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		fmt.Fprintf(w, "File Manager is running!")
		return
	}
	http.ServeFile(w, r, index)
}

// handleHealth handles the health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// handleUpload handles the /api/upload endpoint
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Bound the request body so an oversized upload cannot fill the disk.
	// The allowance above the file limit keeps multipart framing and a
	// just-over-limit file inside the parser, where validation reports
	// the proper error.
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+maxMultipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusBadRequest, ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	info, err := s.registry.Register(ctx, header.Filename, header.Size, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.writeFileError(w, "Failed to upload file", err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:      true,
		FileName:     info.Name,
		OriginalName: info.OriginalName,
		Size:         info.Size,
		ContentType:  info.ContentType,
	})
}

// handleFiles handles the /api/files endpoint
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		files, err := s.registry.List(ctx)
		if err != nil {
			s.writeFileError(w, "Failed to list files", err)
			return
		}

		writeJSON(w, http.StatusOK, listResponse{
			Success: true,
			Files:   files,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleFileByName handles the /api/files/{fileName} endpoint
func (s *Server) handleFileByName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileName := strings.TrimPrefix(r.URL.Path, "/api/files/")

	switch r.Method {
	case http.MethodDelete:
		if err := s.registry.Remove(ctx, fileName); err != nil {
			s.writeFileError(w, "Failed to delete file", err)
			return
		}

		writeJSON(w, http.StatusOK, deleteResponse{Success: true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleDownload handles the /api/download/{fileName} endpoint
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileName := strings.TrimPrefix(r.URL.Path, downloadPathPrefix)

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, info, err := s.registry.Fetch(ctx, fileName)
	if err != nil {
		s.writeFileError(w, "Failed to download file", err)
		return
	}
	defer body.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name))

	if _, err := io.Copy(w, body); err != nil {
		// Headers are already written, nothing left to send the client
		log.Printf("Failed to stream file %s: %v", fileName, err)
	}
}

// writeFileError maps a registry error onto the API error contract
func (s *Server) writeFileError(w http.ResponseWriter, logPrefix string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s: %v", logPrefix, err)
	}
	writeError(w, status, err.Error())
}

// statusForError translates registry and blob store errors into HTTP
// status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrFileTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

type uploadResponse struct {
	Success      bool   `json:"success"`
	FileName     string `json:"fileName"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	ContentType  string `json:"contentType"`
}

type listResponse struct {
	Success bool        `json:"success"`
	Files   []*FileInfo `json:"files"`
}

type deleteResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
