package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "factoid-api")
	t.Setenv("STAGE", "")
	t.Setenv("ALLOWED_HOSTS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Stage)
	assert.Equal(t, "8081", cfg.Port)
	assert.True(t, cfg.PrettyPrint)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, DefaultAllowedHosts, cfg.CORS.AllowedHosts)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "factoid-api")
	t.Setenv("STAGE", "prod")
	t.Setenv("SERVERLESS_REGION", "eu-central-1")
	t.Setenv("FACTOID_TABLE", "factoids-prod")
	t.Setenv("CURSOR_SECRET", "s3cr3t")
	t.Setenv("ALLOWED_HOSTS", "example.com, api.example.com ,")
	t.Setenv("DYNAMODB_ENDPOINT", "http://localhost:8000")
	t.Setenv("LOGGER_LOG_SOURCES", "Router,!Store")
	t.Setenv("RATE_LIMIT_RPS", "12.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.PrettyPrint)
	assert.Equal(t, "eu-central-1", cfg.AWS.Region)
	assert.Equal(t, "http://localhost:8000", cfg.AWS.Endpoint)
	assert.Equal(t, "factoids-prod", cfg.Store.FactoidTable)
	assert.Equal(t, "s3cr3t", cfg.Store.CursorSecret)
	assert.Equal(t, []string{"example.com", "api.example.com"}, cfg.CORS.AllowedHosts)
	assert.Equal(t, "Router,!Store", cfg.Log.Sources)
	assert.InDelta(t, 12.5, cfg.RateLimit.RPS, 0.0001)
}

func TestLoad_PrettyPrintOverride(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "factoid-api")
	t.Setenv("STAGE", "prod")
	t.Setenv("PRETTY_PRINT", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.PrettyPrint)
}

func TestServerlessConfig(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	assert.False(t, IsServerlessMode())
	assert.Equal(t, "server", GetDeploymentMode())

	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "factoid-api")
	t.Setenv("AWS_REGION", "us-west-2")
	sc := GetServerlessConfig()
	assert.True(t, sc.IsLambda)
	assert.Equal(t, "factoid-api", sc.FunctionName)
	assert.Equal(t, "us-west-2", sc.Region)
	assert.Equal(t, "serverless", GetDeploymentMode())
}
