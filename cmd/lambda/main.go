package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"

	"echovault-backend/infrastructure/config"
	"echovault-backend/infrastructure/di"
	"echovault-backend/interfaces/http/rest"
)

var (
	chiLambda *chiadapter.ChiLambdaV2
	container *di.Container
)

// init runs during cold start
func init() {
	start := time.Now()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err = di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	router := rest.NewRouter(
		container.EchoService,
		container.Rediscovery,
		container.Validator,
		cfg.AllowedOrigins,
		container.Logger,
	)

	chiRouter, ok := router.Setup().(*chi.Mux)
	if !ok {
		log.Fatal("Failed to cast handler to chi.Mux")
	}
	chiLambda = chiadapter.NewV2(chiRouter)

	log.Printf("Lambda cold start completed in %v", time.Since(start))
}

// Handler translates the gateway authorizer's verified claims into the
// identity headers the auth middleware trusts. The JWT itself was already
// validated by the API Gateway authorizer; it is never re-verified here.
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.Authorizer != nil && req.RequestContext.Authorizer.JWT != nil {
		claims := req.RequestContext.Authorizer.JWT.Claims
		if sub := claims["sub"]; sub != "" {
			if req.Headers == nil {
				req.Headers = map[string]string{}
			}
			delete(req.Headers, "authorization")
			delete(req.Headers, "Authorization")
			req.Headers["X-API-Gateway-Authorized"] = "true"
			req.Headers["X-User-ID"] = sub
			if email := claims["email"]; email != "" {
				req.Headers["X-User-Email"] = email
			}
		}
	}

	return chiLambda.ProxyWithContextV2(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
