package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server serves the content and session API
type Server struct {
	config    *Config
	documents DocumentStore
	blobStore BlobStore
	cache     Cache
	stores    map[string]*ContentStore
	sessions  *SessionManager

	grpcSrv *grpc.Server
	health  *health.Server
	httpSrv *http.Server
}

// Dependencies are the backends a Server is assembled from.
type Dependencies struct {
	Documents DocumentStore
	Blobs     BlobStore
	Cache     Cache
	Identity  IdentityProvider
}

// NewServer creates the backends named in config and assembles a Server
func NewServer(ctx context.Context, config *Config) (*Server, error) {
	var (
		deps Dependencies
		err  error
	)

	switch config.Documents.Driver {
	case "mongo":
		deps.Documents, err = NewMongoDocumentStore(ctx, config)
	case "firestore":
		deps.Documents, err = NewFirestoreDocumentStore(ctx, config.Documents.Firestore.ProjectID)
	case "dynamodb":
		deps.Documents, err = NewDynamoDBDocumentStore(config.AWS.Region, config.Documents.DynamoDB.TableName, config.Documents.DynamoDB.Endpoint)
	default:
		err = fmt.Errorf("unknown document driver: %s", config.Documents.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}

	switch config.Blobs.Driver {
	case "s3":
		deps.Blobs, err = NewS3BlobStore(S3Options{
			Region:        config.AWS.Region,
			BucketName:    config.Blobs.S3.BucketName,
			Endpoint:      config.Blobs.S3.Endpoint,
			PublicBaseURL: config.Blobs.S3.PublicBaseURL,
		})
	case "bucket":
		deps.Blobs, err = OpenBucketBlobStore(ctx, config.Blobs.Bucket.URL, config.Blobs.Bucket.PublicBaseURL)
	default:
		err = fmt.Errorf("unknown blob driver: %s", config.Blobs.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	// Fall back to NoOpCache when Redis is not configured or not reachable
	deps.Cache = &NoOpCache{}
	if config.Redis.Address != "" {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		redisCache, err := NewRedisCache(cctx, config.Redis.Address, config.Redis.TTL)
		if err != nil {
			log.WithError(err).Warn("Failed to create Redis cache, continuing with NoOpCache")
		} else {
			deps.Cache = redisCache
			log.WithField("address", config.Redis.Address).Info("Connected to Redis cache")
		}
	} else {
		log.Info("No Redis address configured, using NoOpCache")
	}

	deps.Identity, err = NewGoogleIdentity(ctx, config.Auth.GoogleClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	return NewServerWith(config, deps), nil
}

// NewServerWith assembles a Server from ready backends
func NewServerWith(config *Config, deps Dependencies) *Server {
	if deps.Cache == nil {
		deps.Cache = &NoOpCache{}
	}

	stores := map[string]*ContentStore{}
	for _, s := range []*ContentStore{
		NewProjectStore(deps.Documents, deps.Blobs, deps.Cache),
		NewTechnologyStore(deps.Documents, deps.Cache),
		NewExperienceStore(deps.Documents, deps.Cache),
		NewHobbyStore(deps.Documents, deps.Blobs, deps.Cache),
	} {
		stores[s.Collection()] = s
	}

	admins := NewAllowList(config.Auth.AdminEmails)
	if len(config.Auth.AdminEmails) == 0 {
		log.Warn("No administrator emails configured; the admin API is unreachable")
	}

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	s := &Server{
		config:    config,
		documents: deps.Documents,
		blobStore: deps.Blobs,
		cache:     deps.Cache,
		stores:    stores,
		sessions:  NewSessionManager(deps.Identity, deps.Blobs, admins, config.Auth.ResumeKey, config.SessionTTLDuration()),
		grpcSrv:   grpcSrv,
		health:    healthSrv,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Server.HTTPPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Store returns the content store for a collection, or nil.
func (s *Server) Store(collection string) *ContentStore {
	return s.stores[collection]
}

// Warm loads every content store. A store that fails to load starts empty
// and is filled by the next refresh.
func (s *Server) Warm(ctx context.Context) {
	for name, store := range s.stores {
		if err := store.Warm(ctx); err != nil {
			log.WithField("collection", name).WithError(err).Error("Failed to load collection")
		}
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Start serves gRPC and HTTP until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.Warm(ctx)

	addr := fmt.Sprintf(":%d", s.config.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	errs := make(chan error, 2)
	go func() {
		log.WithField("addr", addr).Info("gRPC server listening")
		if err := s.grpcSrv.Serve(lis); err != nil {
			errs <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()
	go func() {
		log.WithField("addr", s.httpSrv.Addr).Info("HTTP server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	timeout := time.Duration(s.config.Server.ShutdownTimeout) * time.Second
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Stop(sctx)
	return err
}

// Stop stops the servers and closes the backends
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	s.grpcSrv.GracefulStop()

	if closer, ok := s.cache.(io.Closer); ok {
		closer.Close()
	}
	if closer, ok := s.blobStore.(io.Closer); ok {
		closer.Close()
	}
	if s.documents != nil {
		if err := s.documents.Close(ctx); err != nil {
			log.WithError(err).Warn("Failed to close document store")
		}
	}
}
