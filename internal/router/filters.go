package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"factoid-api/internal/apierror"
	"factoid-api/internal/logging"
	"factoid-api/pkg/lambda"
)

const (
	ContentTypeJSON = "application/json;charset=utf-8"
	ContentTypeHTML = "text/html;charset=utf-8"
	ContentTypeText = "text/plain"

	RequestIDHeader = "X-Request-ID"
)

var filterLog = logging.Source("Filters")

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, DELETE, PUT, PATCH, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization, X-Amz-Date, X-Amz-Security-Token, X-Amz-User-Agent, X-Api-Key",
}

// CORS rejects requests whose Origin is not one of allowedHosts (or a
// subdomain of one) and adds the CORS headers to every other response.
// Requests without an Origin, and all requests when allowedHosts is empty,
// are let through.
func CORS(allowedHosts []string) Filter {
	matcher := originMatcher(allowedHosts)

	return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
		origin := GetHeader(req.Headers, "Origin", "")
		if origin != "" && matcher != nil && !matcher.MatchString(origin) {
			filterLog.WithField("origin", origin).Warn("rejected cross origin request")
			return nil, apierror.Forbidden(fmt.Sprintf("%s is not allowed", origin))
		}

		out, err := next(ctx, req, params)
		if err != nil {
			return nil, err
		}
		if resp, ok := out.(*lambda.Response); ok && resp != nil {
			resp.Headers = mergeHeaders(corsHeaders, resp.Headers)
		}
		return out, nil
	}
}

var jsonContentType = regexp.MustCompile(`(?i)^application/json(\s*;.*)?$`)

// BodyParser decodes JSON bodies into req.Data. Bodies that fail to parse
// are left alone.
func BodyParser() Filter {
	return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
		contentType := GetHeader(req.Headers, "Content-Type", "application/json")
		if len(req.Body) > 0 && jsonContentType.MatchString(contentType) {
			var data any
			if err := json.Unmarshal(req.Body, &data); err == nil {
				req = req.Clone()
				req.Data = data
			} else {
				filterLog.WithError(err).Debug("ignoring malformed JSON body")
			}
		}
		return next(ctx, req, params)
	}
}

// ErrorResponder turns any error of the remaining chain into a response
func ErrorResponder(pretty bool) Filter {
	return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
		out, err := next(ctx, req, params)
		if err != nil {
			return ErrorResponse(req, err, pretty), nil
		}
		return out, nil
	}
}

type httpStatusError interface {
	HTTPStatusCode() int
}

var (
	acceptJSON = regexp.MustCompile(`(?i)application/json`)
	acceptAny  = regexp.MustCompile(`\*/\*`)
	acceptHTML = regexp.MustCompile(`(?i)text/html`)
)

// ErrorResponse renders err for the client. The body is JSON, HTML or plain
// text depending on the Accept header.
func ErrorResponse(req *lambda.Request, err error, pretty bool) *lambda.Response {
	resp := errorResponse(req, err, pretty)

	var idErr *requestIDError
	if errors.As(err, &idErr) {
		resp.Headers = mergeHeaders(resp.Headers, map[string]string{RequestIDHeader: idErr.id})
	}
	return resp
}

func errorResponse(req *lambda.Request, err error, pretty bool) *lambda.Response {
	status, message := http.StatusInternalServerError, err.Error()

	var statusErr *apierror.StatusError
	var httpErr httpStatusError
	switch {
	case errors.As(err, &statusErr):
		status, message = statusErr.Code, statusErr.Message
	case errors.As(err, &httpErr) && httpErr.HTTPStatusCode() > 0:
		status = httpErr.HTTPStatusCode()
	}

	entry := filterLog.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("replying with error")
	} else {
		entry.Info("replying with error")
	}

	var accept string
	if req != nil {
		accept = GetHeader(req.Headers, "Accept", "")
	}

	switch {
	case accept == "" || acceptJSON.MatchString(accept) || acceptAny.MatchString(accept):
		body, err := encodeJSON(struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		}{status, message}, pretty)
		if err != nil {
			body = fmt.Sprintf(`{"status":%d}`, status)
		}
		return &lambda.Response{
			StatusCode: status,
			Headers:    map[string]string{"Content-Type": ContentTypeJSON},
			Body:       body,
		}
	case acceptHTML.MatchString(accept):
		escaped := html.EscapeString(message)
		return &lambda.Response{
			StatusCode: status,
			Headers:    map[string]string{"Content-Type": ContentTypeHTML},
			Body:       fmt.Sprintf("<html>\n<head>\n<title>%s</title>\n</head>\n<body>\n<h1>%s</h1>\n</body>\n</html>", escaped, escaped),
		}
	default:
		return &lambda.Response{
			StatusCode: status,
			Headers:    map[string]string{"Content-Type": ContentTypeText},
			Body:       message,
		}
	}
}

// Responder makes sure the chain yields a well formed response: handler
// values become a 200 JSON response and errors are rendered by the error
// responder.
func Responder(pretty bool) Filter {
	errorResponder := ErrorResponder(pretty)

	return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
		return errorResponder(ctx, req, params, func(ctx context.Context, req *lambda.Request, params Params) (any, error) {
			// Direct invocations may leave these unset
			if req.PathParams == nil {
				req.PathParams = map[string]string{}
			}
			if req.QueryParams == nil {
				req.QueryParams = map[string]string{}
			}
			if req.Headers == nil {
				req.Headers = map[string]string{}
			}

			out, err := next(ctx, req, params)
			if err != nil {
				return nil, err
			}
			if resp, ok := out.(*lambda.Response); ok && resp != nil {
				return resp, nil
			}
			return JSONResponse(http.StatusOK, out, pretty)
		})
	}
}

// JSONResponse encodes v as the body of a JSON response. A nil value gives
// an empty body.
func JSONResponse(status int, v any, pretty bool) (*lambda.Response, error) {
	resp := &lambda.Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": ContentTypeJSON},
	}
	if v == nil {
		return resp, nil
	}

	body, err := encodeJSON(v, pretty)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	resp.Body = body
	return resp, nil
}

func encodeJSON(v any, pretty bool) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID reuses the X-Request-ID header or generates an id, makes it
// available through RequestIDFromContext and echoes it on the response
func RequestID() Filter {
	return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
		id := GetHeader(req.Headers, RequestIDHeader, "")
		if id == "" {
			id = uuid.NewString()
		}

		out, err := next(context.WithValue(ctx, requestIDKey, id), req, params)
		if err != nil {
			return nil, &requestIDError{err: err, id: id}
		}
		if resp, ok := out.(*lambda.Response); ok && resp != nil {
			resp.Headers = mergeHeaders(resp.Headers, map[string]string{RequestIDHeader: id})
		}
		return out, err
	}
}

// requestIDError keeps the request id on an error that leaves the chain
// unrendered, so ErrorResponse can still echo it
type requestIDError struct {
	err error
	id  string
}

func (e *requestIDError) Error() string { return e.err.Error() }

func (e *requestIDError) Unwrap() error { return e.err }

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestLogger logs one line per request
func RequestLogger() Filter {
	return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
		start := time.Now()
		out, err := next(ctx, req, params)
		latency := time.Since(start)

		status := http.StatusOK
		if resp, ok := out.(*lambda.Response); ok && resp != nil {
			status = resp.StatusCode
		}
		var statusErr *apierror.StatusError
		if err != nil {
			status = http.StatusInternalServerError
			if errors.As(err, &statusErr) {
				status = statusErr.Code
			}
		}

		fields := logrus.Fields{
			"method":      req.Method,
			"path":        req.Path,
			"status_code": status,
			"latency_ms":  float64(latency.Nanoseconds()) / 1000000,
		}
		if id := RequestIDFromContext(ctx); id != "" {
			fields["request_id"] = id
		}

		entry := filterLog.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request completed")
		}
		return out, err
	}
}

// RateLimit answers with ServiceUnavailable once the token bucket is empty.
// It lets everything through when rps is not positive.
func RateLimit(rps float64, burst int) Filter {
	if rps <= 0 {
		return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
			return next(ctx, req, params)
		}
	}
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error) {
		if !limiter.Allow() {
			return nil, apierror.ServiceUnavailable("Rate limit exceeded")
		}
		return next(ctx, req, params)
	}
}

// mergeHeaders returns base overlaid with override
func mergeHeaders(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
