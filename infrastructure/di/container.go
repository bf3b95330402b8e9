// Package di wires the application graph by hand: config in, services out.
package di

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"echovault-backend/application/services"
	"echovault-backend/infrastructure/config"
	"echovault-backend/infrastructure/objectstore"
	dynamostore "echovault-backend/infrastructure/persistence/dynamodb"
	"echovault-backend/pkg/auth"
)

// Container holds the wired application graph.
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Runner      *services.BackgroundRunner
	EchoService *services.EchoService
	Rediscovery *services.RediscoveryService
	Validator   *auth.JWTValidator
}

// InitializeContainer builds every component from configuration.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	repo := dynamostore.NewEchoRepository(dynamoClient, cfg.EchoTable, cfg.EmotionIndex, logger)

	s3Client := s3.NewFromConfig(awsCfg)
	media := objectstore.NewMediaStore(
		s3.NewPresignClient(s3Client),
		s3Client,
		objectstore.Options{
			Bucket:      cfg.AudioBucket,
			UploadTTL:   cfg.UploadURLTTL,
			DownloadTTL: cfg.DownloadURLTTL,
			MaxBytes:    cfg.MaxUploadBytes,
		},
		logger,
	)

	runner := services.NewBackgroundRunner(logger, 10*time.Second)

	echoService := services.NewEchoService(repo, media, runner, logger)
	rediscovery := services.NewRediscoveryService(repo, media, runner, logger,
		services.WithWeightParams(services.WeightParams{
			AgePerDay:   cfg.AgeWeightPerDay,
			AgeCap:      cfg.AgeWeightCap,
			PlayPenalty: cfg.PlayWeightPenalty,
			PlayFloor:   cfg.PlayWeightFloor,
		}),
		services.WithCandidatePoolSize(cfg.CandidatePoolSize),
	)

	var validator *auth.JWTValidator
	if cfg.JWTSecret != "" {
		validator, err = auth.NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to build JWT validator: %w", err)
		}
	}

	return &Container{
		Config:      cfg,
		Logger:      logger,
		Runner:      runner,
		EchoService: echoService,
		Rediscovery: rediscovery,
		Validator:   validator,
	}, nil
}

// Shutdown drains background tasks and flushes the logger.
func (c *Container) Shutdown() {
	c.Runner.Wait()
	_ = c.Logger.Sync()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
