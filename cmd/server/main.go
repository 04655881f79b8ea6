package main

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/data"
	"github.com/kbragio/kbrag/internal/handler"
	"github.com/kbragio/kbrag/internal/lexical"
	"github.com/kbragio/kbrag/internal/middleware"
	"github.com/kbragio/kbrag/internal/modelgateway"
	"github.com/kbragio/kbrag/internal/pipeline"
	"github.com/kbragio/kbrag/internal/rag"
	"github.com/kbragio/kbrag/internal/repository"
	"github.com/kbragio/kbrag/internal/retriever"
	"github.com/kbragio/kbrag/internal/service"
	"github.com/kbragio/kbrag/internal/statussync"
	"github.com/kbragio/kbrag/internal/vectorstore"
)

func main() {
	cfg := conf.LoadConfig()

	d, cleanup, err := data.New(cfg)
	if err != nil {
		log.Fatalf("❌ data layer init failed: %v", err)
	}
	defer cleanup()

	vecs := vectorstore.New(d.Qdrant, cfg.Data.QdrantCollection)
	if err := vecs.EnsureCollection(context.Background(), cfg.Data.QdrantVectorSize); err != nil {
		log.Fatalf("❌ qdrant collection init failed: %v", err)
	}
	lex := lexical.New(d.ES, cfg.Data.ESIndex)
	if err := lex.EnsureIndex(context.Background()); err != nil {
		log.Fatalf("❌ elasticsearch index init failed: %v", err)
	}

	userRepo := repository.NewUserRepository(d.DB)
	orgRepo := repository.NewOrganizationRepository(d.DB)
	kbRepo := repository.NewKnowledgeBaseRepository(d.DB)
	docRepo := repository.NewDocumentRepository(d.DB)
	pageRepo := repository.NewPageRepository(d.DB)
	segRepo := repository.NewSegmentRepository(d.DB)
	permRepo := repository.NewPermissionRepository(d.DB)
	chatRepo := repository.NewChatRepository(d.DB)
	runLogRepo := repository.NewRunLogRepository(d.DB)

	gateway := modelgateway.New(&cfg.Model, int64(cfg.Model.QueueCapacity))

	statuses := statussync.New(cfg.Sync, func(docID string) string {
		doc, err := docRepo.GetByDocID(context.Background(), docID)
		if err != nil {
			return ""
		}
		return doc.CallbackURL
	})

	fetchObject := func(ctx context.Context, objectKey string) (io.ReadCloser, error) {
		return d.GetObject(ctx, objectKey)
	}
	putObject := func(ctx context.Context, objectKey string, src io.Reader, size int64, contentType string) error {
		_, err := d.PutObject(ctx, objectKey, src, size, contentType)
		return err
	}

	pl := pipeline.New(d.Redis, docRepo, pageRepo, segRepo, vecs, lex, gateway, statuses, fetchObject, cfg.Pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Start(ctx)
	if err := pl.Recover(ctx); err != nil {
		log.Printf("pipeline recovery failed: %v", err)
	}

	sweeper := pipeline.NewSweeper(docRepo, vecs, lex, cfg.Pipeline.SweepInterval, cfg.Pipeline.SweepLookback)
	go sweeper.Run(ctx)

	retr := retriever.New(vecs, lex, segRepo, permRepo, gateway, cfg.RAG)
	orch := rag.New(chatRepo, docRepo, runLogRepo, retr, gateway, cfg.RAG)

	authService := service.NewAuthService(userRepo, cfg.App.JWTSecret, cfg.App.JWTTTL)
	orgService := service.NewOrgService(orgRepo)
	kbService := service.NewKBService(kbRepo, orgRepo)
	docService := service.NewDocumentService(docRepo, permRepo, vecs, lex, putObject, pl.Enqueue)

	authHandler := handler.NewAuthHandler(authService)
	orgHandler := handler.NewOrgHandler(orgService)
	kbHandler := handler.NewKBHandler(kbService)
	docHandler := handler.NewDocumentHandler(docService)
	chatHandler := handler.NewChatHandler(orch)
	logHandler := handler.NewLogHandler(runLogRepo)

	r := gin.Default()
	r.Use(middleware.Trace())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", handler.Health)

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		protected := api.Group("/")
		protected.Use(middleware.JWTAuth(cfg.App.JWTSecret))
		{
			protected.POST("/documents", docHandler.Upload)
			protected.DELETE("/documents/:doc_id", docHandler.Delete)
			protected.POST("/documents/:doc_id/reprocess", docHandler.Reprocess)

			protected.POST("/chat/ask", chatHandler.Ask)

			protected.POST("/orgs", orgHandler.Create)
			protected.GET("/orgs", orgHandler.List)

			protected.POST("/kbs", kbHandler.Create)
			protected.GET("/kbs", kbHandler.List)

			protected.GET("/logs", logHandler.List)
		}
	}

	log.Printf("🚀 kbrag listening on :%s", cfg.App.Port)
	if err := r.Run(":" + cfg.App.Port); err != nil {
		log.Fatalf("❌ server failed: %v", err)
	}
}
