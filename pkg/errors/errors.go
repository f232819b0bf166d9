// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeRegistryProviderNotFound Code = "registry.provider.not_found"
	CodeRegistryClassUnknown     Code = "registry.class.unknown"
	CodeRegistryEmptyClass       Code = "registry.class.empty"

	CodeSelectorNoneHealthy  Code = "selector.route.none_healthy"
	CodeSelectorAllExhausted Code = "selector.execute.all_exhausted"

	CodeProbeTimeout         Code = "probe.request.timeout"
	CodeProbeUpstreamFailure Code = "probe.request.upstream_failure"

	CodeStoreOpenFailure        Code = "store.open.failure"
	CodeStoreReadFailure        Code = "store.read.failure"
	CodeStoreWriteFailure       Code = "store.write.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"

	CodeCacheEntryNotFound Code = "cache.entry.not_found"
	CodeCacheDecodeInvalid Code = "cache.entry.decode_invalid"

	CodeQueueDrainBusy       Code = "queue.drain.busy"
	CodeQueueExecutorFailure Code = "queue.executor.failure"
	CodeQueueItemDropped     Code = "queue.item.dropped"

	CodeSandboxRequestInvalid  Code = "sandbox.request.invalid"
	CodeSandboxUpstreamFailure Code = "sandbox.upstream.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLISetupFailure   Code = "cli.setup.failure"
	CodeCLIRequestFailure Code = "cli.request.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldClass(value string) Attr {
	return Field("class", value)
}

func FieldCacheKey(value string) Attr {
	return Field("cache_key", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsExhausted(err error) bool {
	return reason(CodeOf(err)) == "all_exhausted"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_value" || r == "decode_invalid"
}

func IsUpstreamFailure(err error) bool {
	return reason(CodeOf(err)) == "upstream_failure"
}

// HTTPStatus maps an error code onto the status the server surface returns.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsExhausted(err), IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
