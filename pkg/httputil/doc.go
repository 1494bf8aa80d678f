// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Error responses always carry the machine-readable kind of the failure:
//
//	if err := svc.PublishBatch(ctx, id, all); err != nil {
//		httputil.WriteAppError(w, err) // {"error":"domain_state","message":"no passports in batch"}
//		return
//	}
//
// List endpoints share pagination parsing and the Page envelope:
//
//	p, err := httputil.ParsePagination(r)
//	httputil.WriteSuccess(w, httputil.NewPage(items, total, p))
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//	)(router)
package httputil
