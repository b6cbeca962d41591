package main

import (
	"context"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"factoid-api/internal/config"
	"factoid-api/internal/logging"
	"factoid-api/pkg/server"
)

var container *server.Container

func init() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if err := logging.Setup(logging.Config{Level: cfg.Log.Level, JSON: true, Sources: cfg.Log.Sources}); err != nil {
		panic("Failed to configure logging: " + err.Error())
	}

	container, err = server.NewContainer(context.Background(), cfg)
	if err != nil {
		panic("Failed to initialize container: " + err.Error())
	}

	rt := config.GetServerlessConfig()
	logrus.WithFields(logrus.Fields{
		"function": rt.FunctionName,
		"region":   rt.Region,
		"stage":    cfg.Stage,
	}).Info("factoid api cold start")
}

func main() {
	awslambda.Start(container.HandleAPIGateway)
}
