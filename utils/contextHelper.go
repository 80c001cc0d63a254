package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/sitedata_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeySiteId        = appctx.ContextKeySiteId
	ContextKeyJobId         = appctx.ContextKeyJobId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetSiteIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySiteId)
}

func SetSiteIdInContext(ctx context.Context, siteId string) context.Context {
	return appctx.Set(ctx, ContextKeySiteId, siteId)
}

func GetJobIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyJobId)
}

func SetJobIdInContext(ctx context.Context, jobId string) context.Context {
	return appctx.Set(ctx, ContextKeyJobId, jobId)
}
