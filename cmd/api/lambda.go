package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"storymagic/internal/core"
)

// runLambda serves the router through the Lambda runtime. Both Function URLs
// and API Gateway HTTP APIs deliver the payload format 2.0 event.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	lambda.StartWithOptions(newLambdaAdapter(srv).ProxyWithContext,
		lambda.WithEnableSIGTERM(func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				logger.Error("server resource shutdown error", "error", err)
			}
		}),
	)
	return nil
}

func newLambdaAdapter(srv *core.Server) *httpadapter.HandlerAdapterV2 {
	return httpadapter.NewV2(srv.Handler())
}
