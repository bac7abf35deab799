// Package interceptors provides the request and response interceptors the dispatch
// host installs around its handlers: request ids, envelope validation, rate
// limiting, policy enforcement, response redaction and access logging.
//
// Request interceptors implement dispatch.RequestInterceptor[*domain.HandlerInput];
// response interceptors implement
// dispatch.ResponseInterceptor[*domain.HandlerInput, *domain.Response]. Failures are
// returned as *domain.DomainError values wrapping the domain sentinels so that
// recovery routes can match them with errors.Is.
package interceptors
