package server

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"factoid-api/internal/config"
	"factoid-api/internal/handlers"
	"factoid-api/internal/router"
	"factoid-api/internal/store"
	"factoid-api/pkg/lambda"
)

// Container holds all application dependencies. It is built once by the
// process entry point and shared by every request.
type Container struct {
	Config *config.Config
	Store  *store.Client
	Router *router.Router
}

// NewContainer connects to DynamoDB using the AWS settings of cfg
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	return NewContainerWithAPI(cfg, client), nil
}

// NewContainerWithAPI builds the container around an existing store API,
// e.g. store.MockAPI in tests
func NewContainerWithAPI(cfg *config.Config, api store.API) *Container {
	storeClient := store.NewClient(api, store.WithCursorSecret(cfg.Store.CursorSecret))

	return &Container{
		Config: cfg,
		Store:  storeClient,
		Router: NewRouter(cfg, storeClient),
	}
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// NewRouter installs the filter chain and the API routes
func NewRouter(cfg *config.Config, storeClient *store.Client) *router.Router {
	r := router.New(router.WithPrettyPrint(cfg.PrettyPrint))

	r.Use(router.RequestID())
	r.Use(router.CORS(cfg.CORS.AllowedHosts))
	r.Use(router.RequestLogger())
	r.Use(router.Responder(cfg.PrettyPrint))
	r.Use(router.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	r.Use(router.BodyParser())

	handlers.SetupRoutes(r, &handlers.RouterConfig{
		Store:        storeClient,
		FactoidTable: cfg.Store.FactoidTable,
		Stage:        cfg.Stage,
	})
	return r
}

// HandleAPIGateway serves an API Gateway proxy event. It never returns an
// error; failures are rendered into the response.
func (c *Container) HandleAPIGateway(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp := c.Router.Serve(ctx, lambda.FromAPIGateway(event))
	return resp.ToAPIGateway(), nil
}
